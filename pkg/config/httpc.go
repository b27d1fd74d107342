package config

import (
	"fmt"
	"os"
	"time"
)

// HTTPConfig governs the rate-limited outbound HTTP client.
type HTTPConfig struct {
	// UserAgent identifies the operator on every outbound request. Loaded
	// from SPACWATCH_USER_AGENT when empty; required by the regulator.
	UserAgent string `yaml:"user_agent"`

	// SECHostRPS is the token-bucket rate for the regulator's host.
	SECHostRPS float64 `yaml:"sec_host_rps"`

	// DefaultHostRPS applies to any host without an explicit entry.
	DefaultHostRPS float64 `yaml:"default_host_rps"`

	// HostRPS overrides per host.
	HostRPS map[string]float64 `yaml:"host_rps"`

	Burst          int           `yaml:"burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RetryAttempts and RetryBaseDelay govern transient-error retries
	// (timeouts, 5xx): exponential backoff, never retried on 4xx.
	RetryAttempts  uint          `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DefaultHTTPConfig returns the built-in HTTP client defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		UserAgent:      os.Getenv("SPACWATCH_USER_AGENT"),
		SECHostRPS:     10,
		DefaultHostRPS: 2,
		Burst:          1,
		RequestTimeout: 20 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
	}
}

// Validate checks the HTTP configuration. UserAgent is validated lazily by
// the client so that offline commands (validate, test-chat) do not require it.
func (c *HTTPConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("http configuration is nil")
	}
	if c.SECHostRPS <= 0 || c.DefaultHostRPS <= 0 {
		return fmt.Errorf("host rps values must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	return nil
}
