// Package amazon reads and clears the Alexa shopping list through a
// long-lived browser tab and keeps the Amazon session alive.
package amazon

import "time"

const (
	DefaultBaseURL   = "https://www.amazon.com"
	DefaultListURL   = "https://www.amazon.com/gp/alexa-shopping-list"
	DefaultSigninURL = "https://www.amazon.com/ap/signin"
)

// Config holds the Amazon site settings and credentials.
type Config struct {
	BaseURL   string
	ListURL   string
	SigninURL string
	Email     string
	Password  string
	// OTPCommand prints a one-time code on stdout when the login flow asks
	// for one.
	OTPCommand string
	// SettleDelay is the pause after navigation and clicks while the list
	// renders. Default: 2s.
	SettleDelay time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ListURL == "" {
		c.ListURL = DefaultListURL
	}
	if c.SigninURL == "" {
		c.SigninURL = DefaultSigninURL
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
}
