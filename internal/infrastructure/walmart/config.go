// Package walmart is the storefront adapter: catalog search, add-to-cart,
// the previously purchased ("My Items") catalog and the account session.
package walmart

import "time"

const (
	DefaultBaseURL   = "https://www.walmart.com"
	DefaultSigninURL = "https://www.walmart.com/account/login"
)

// Config holds the Walmart site settings and credentials.
type Config struct {
	BaseURL   string
	SigninURL string
	Email     string
	Password  string
	// SearchDelay is the minimum spacing between storefront page loads.
	// Default: 1s.
	SearchDelay time.Duration
	// HistoryMaxPages bounds the My Items scan. Default: 10.
	HistoryMaxPages int
	// MaxResults caps the cards read from one search page. Default: 20.
	MaxResults int
	// SettleDelay is the pause after navigation and clicks. Default: 2s.
	SettleDelay time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.SigninURL == "" {
		c.SigninURL = DefaultSigninURL
	}
	if c.SearchDelay <= 0 {
		c.SearchDelay = time.Second
	}
	if c.HistoryMaxPages <= 0 {
		c.HistoryMaxPages = 10
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 20
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
}
