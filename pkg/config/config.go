// Package config holds the typed configuration surface for spacwatch.
// Every tunable cited in the design (intervals, lookback window, rate
// limits, tolerance bands, thresholds) lives here rather than as scattered
// constants.
package config

import "fmt"

// Config is the umbrella configuration object returned by Load and threaded
// from main into the components that need it. Tests construct it directly.
type Config struct {
	Scheduler  *SchedulerConfig  `yaml:"scheduler"`
	Poller     *PollerConfig     `yaml:"poller"`
	HTTP       *HTTPConfig       `yaml:"http"`
	Dispatch   *DispatchConfig   `yaml:"dispatch"`
	LLM        *LLMConfig        `yaml:"llm"`
	Chat       *ChatConfig       `yaml:"chat"`
	Validation *ValidationConfig `yaml:"validation"`
	Improve    *ImproveConfig    `yaml:"improve"`
	Alerts     *AlertsConfig     `yaml:"alerts"`
	API        *APIConfig        `yaml:"api"`
}

// Default returns the built-in configuration. All values match the design
// defaults; a spacwatch.yaml overrides selectively.
func Default() *Config {
	return &Config{
		Scheduler:  DefaultSchedulerConfig(),
		Poller:     DefaultPollerConfig(),
		HTTP:       DefaultHTTPConfig(),
		Dispatch:   DefaultDispatchConfig(),
		LLM:        DefaultLLMConfig(),
		Chat:       DefaultChatConfig(),
		Validation: DefaultValidationConfig(),
		Improve:    DefaultImproveConfig(),
		Alerts:     DefaultAlertsConfig(),
		API:        DefaultAPIConfig(),
	}
}

// Validate checks every sub-config. Called once at startup; a failure here
// is fatal (configuration errors exit non-zero).
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"scheduler", c.Scheduler.Validate},
		{"poller", c.Poller.Validate},
		{"http", c.HTTP.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"llm", c.LLM.Validate},
		{"chat", c.Chat.Validate},
		{"validation", c.Validation.Validate},
		{"improve", c.Improve.Validate},
		{"alerts", c.Alerts.Validate},
		{"api", c.API.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}
