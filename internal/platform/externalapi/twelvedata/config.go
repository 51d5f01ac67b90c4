// Package twelvedata provides a client for the Twelve Data stock market API.
package twelvedata

import "time"

// Config holds configuration for the Twelve Data API client.
type Config struct {
	APIKey  string        `envconfig:"API_KEY"`
	BaseURL string        `envconfig:"BASE_URL" default:"https://api.twelvedata.com"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"` // HTTP request timeout

	// RateLimit requests are allowed per RateInterval (free plan: 8/min).
	RateLimit    int           `envconfig:"RATE_LIMIT" default:"8"`
	RateInterval time.Duration `envconfig:"RATE_INTERVAL" default:"1m"`
}
