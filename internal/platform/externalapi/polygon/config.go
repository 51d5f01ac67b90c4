// Package polygon fetches daily aggregates from the Polygon.io REST API.
package polygon

import "time"

// Config holds configuration for the Polygon API client.
type Config struct {
	APIKey  string        `envconfig:"API_KEY"`
	BaseURL string        `envconfig:"BASE_URL" default:"https://api.polygon.io"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
	// Free plan allows 5 requests per minute per key.
	RateLimit    int           `envconfig:"RATE_LIMIT" default:"5"`
	RateInterval time.Duration `envconfig:"RATE_INTERVAL" default:"1m"`
	// MaxPages bounds next_url pagination of a single fetch.
	MaxPages int `envconfig:"MAX_PAGES" default:"20"`
}
