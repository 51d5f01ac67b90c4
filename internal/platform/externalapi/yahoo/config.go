// Package yahoo fetches daily bars from the Yahoo Finance chart API.
package yahoo

import "time"

// Config holds configuration for the Yahoo chart client.
type Config struct {
	BaseURL string        `envconfig:"BASE_URL" default:"https://query2.finance.yahoo.com"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"15s"`
	// The chart endpoint rejects requests without a browser-like agent.
	UserAgent string `envconfig:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
}
