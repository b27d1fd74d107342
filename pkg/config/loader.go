package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with nil-able sections so an absent section in
// spacwatch.yaml leaves the built-in defaults untouched.
type fileConfig struct {
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

// Load reads spacwatch.yaml from path (optional), merges it section by
// section onto the built-in defaults, and validates the result. Non-zero
// user values override defaults; unset values keep them.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("No config file found, using built-in defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			if err := mergeSections(cfg, &fc); err != nil {
				return nil, err
			}
			slog.Info("Loaded configuration", "path", path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// mergeSections merges each present user section into the defaults.
func mergeSections(cfg *Config, fc *fileConfig) error {
	merges := []struct {
		name string
		dst  any
		src  any
	}{
		{"scheduler", cfg.Scheduler, fc.Scheduler},
		{"poller", cfg.Poller, fc.Poller},
		{"http", cfg.HTTP, fc.HTTP},
		{"dispatch", cfg.Dispatch, fc.Dispatch},
		{"llm", cfg.LLM, fc.LLM},
		{"chat", cfg.Chat, fc.Chat},
		{"validation", cfg.Validation, fc.Validation},
		{"improve", cfg.Improve, fc.Improve},
		{"alerts", cfg.Alerts, fc.Alerts},
		{"api", cfg.API, fc.API},
	}
	for _, m := range merges {
		if isNilSection(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge %s config: %w", m.name, err)
		}
	}
	return nil
}

func isNilSection(v any) bool {
	switch s := v.(type) {
	case *SchedulerConfig:
		return s == nil
	case *PollerConfig:
		return s == nil
	case *HTTPConfig:
		return s == nil
	case *DispatchConfig:
		return s == nil
	case *LLMConfig:
		return s == nil
	case *ChatConfig:
		return s == nil
	case *ValidationConfig:
		return s == nil
	case *ImproveConfig:
		return s == nil
	case *AlertsConfig:
		return s == nil
	case *APIConfig:
		return s == nil
	}
	return v == nil
}
