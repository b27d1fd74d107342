package config

import (
	"fmt"
	"time"
)

// SchedulerConfig governs the control loop: tick period, per-monitor
// cadences, and the market-hour and time-of-day gates.
type SchedulerConfig struct {
	// TickInterval is the control-loop period in continuous mode.
	TickInterval time.Duration `yaml:"tick_interval"`

	// FilingPollInterval is the normal filing-poller cadence.
	FilingPollInterval time.Duration `yaml:"filing_poll_interval"`

	// AcceleratedPollInterval replaces FilingPollInterval while any tracked
	// entity has accelerated_polling_until in the future.
	AcceleratedPollInterval time.Duration `yaml:"accelerated_poll_interval"`

	NewsPollInterval    time.Duration `yaml:"news_poll_interval"`
	PriceUpdateInterval time.Duration `yaml:"price_update_interval"`
	SocialPollInterval  time.Duration `yaml:"social_poll_interval"`

	// SocialEnabled gates the social-signal monitor (disabled in this
	// revision).
	SocialEnabled bool `yaml:"social_enabled"`

	// Market session in exchange-local time, Mon-Fri.
	MarketTimezone string `yaml:"market_timezone"`
	MarketOpen     string `yaml:"market_open"`  // "09:00"
	MarketClose    string `yaml:"market_close"` // "16:00"

	// Once-per-day and weekly windows, exchange-local time.
	AfterMarketTime string `yaml:"after_market_time"` // after-market aggregation, after close
	DailyCheckTime  string `yaml:"daily_check_time"`  // duplicate/premium/S-1/pre-IPO checks
	WeeklyDay       string `yaml:"weekly_day"`        // weekly enrichment day
	WeeklyTime      string `yaml:"weekly_time"`
	DigestTime      string `yaml:"digest_time"` // daily digest

	// MaxLLMConcurrency bounds concurrent outbound LLM calls process-wide.
	MaxLLMConcurrency int `yaml:"max_llm_concurrency"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:            60 * time.Second,
		FilingPollInterval:      15 * time.Minute,
		AcceleratedPollInterval: 5 * time.Minute,
		NewsPollInterval:        180 * time.Minute,
		PriceUpdateInterval:     5 * time.Minute,
		SocialPollInterval:      30 * time.Minute,
		SocialEnabled:           false,
		MarketTimezone:          "America/New_York",
		MarketOpen:              "09:00",
		MarketClose:             "16:00",
		AfterMarketTime:         "16:30",
		DailyCheckTime:          "09:00",
		WeeklyDay:               "Sunday",
		WeeklyTime:              "09:00",
		DigestTime:              "23:55",
		MaxLLMConcurrency:       2,
	}
}

// Validate checks the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}
	if c.TickInterval < time.Second {
		return fmt.Errorf("tick_interval must be at least 1s, got %v", c.TickInterval)
	}
	if c.AcceleratedPollInterval > c.FilingPollInterval {
		return fmt.Errorf("accelerated_poll_interval (%v) must not exceed filing_poll_interval (%v)",
			c.AcceleratedPollInterval, c.FilingPollInterval)
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		return fmt.Errorf("invalid market_timezone %q: %w", c.MarketTimezone, err)
	}
	for _, hhmm := range []string{c.MarketOpen, c.MarketClose, c.AfterMarketTime, c.DailyCheckTime, c.WeeklyTime, c.DigestTime} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid clock time %q: %w", hhmm, err)
		}
	}
	if c.MaxLLMConcurrency < 1 {
		return fmt.Errorf("max_llm_concurrency must be at least 1")
	}
	return nil
}
