package config

import (
	"fmt"
	"time"
)

// PollerConfig governs per-entity filing polling.
type PollerConfig struct {
	// LookbackWindow is how far back a newly-observed filing is still
	// considered new. Deliberately wider than the poll interval so a
	// transiently elevated last_check never silently drops late-published
	// filings. The lower bound is inclusive.
	LookbackWindow time.Duration `yaml:"lookback_window"`

	// SeenCap bounds the per-entity filing.seen list in the state store.
	SeenCap int `yaml:"seen_cap"`

	// BodyMaxBytes caps the prefetched primary-document text.
	BodyMaxBytes int `yaml:"body_max_bytes"`

	// InterRequestSleep is the pause between per-entity feed requests,
	// honoring the regulator's rate cap during sequential polling.
	InterRequestSleep time.Duration `yaml:"inter_request_sleep"`

	// ErrorAlertThreshold is the number of per-entity poll errors within a
	// single tick that raises an operator alert.
	ErrorAlertThreshold int `yaml:"error_alert_threshold"`

	// FeedURLTemplate builds the polling URL from a CIK.
	FeedURLTemplate string `yaml:"feed_url_template"`
}

// DefaultPollerConfig returns the built-in poller defaults.
func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		LookbackWindow:      48 * time.Hour,
		SeenCap:             1000,
		BodyMaxBytes:        50_000,
		InterRequestSleep:   150 * time.Millisecond,
		ErrorAlertThreshold: 3,
		FeedURLTemplate:     "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=&dateb=&owner=include&count=40&output=atom",
	}
}

// Validate checks the poller configuration.
func (c *PollerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("poller configuration is nil")
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_window must be positive")
	}
	if c.SeenCap < 100 {
		return fmt.Errorf("seen_cap must be at least 100, got %d", c.SeenCap)
	}
	if c.BodyMaxBytes <= 0 {
		return fmt.Errorf("body_max_bytes must be positive")
	}
	if c.ErrorAlertThreshold < 1 {
		return fmt.Errorf("error_alert_threshold must be at least 1")
	}
	if c.FeedURLTemplate == "" {
		return fmt.Errorf("feed_url_template is required")
	}
	return nil
}
