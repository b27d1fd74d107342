package config

import (
	"fmt"
	"time"
)

// DispatchConfig governs the filing dispatcher's worker pool.
type DispatchConfig struct {
	// WorkerCount bounds parallel filing dispatches within a tick. Agents
	// for a single filing always run sequentially; the pool only fans out
	// across filings.
	WorkerCount int `yaml:"worker_count"`

	// TaskTimeout is the hard bound on a single agent task.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// DefaultDispatchConfig returns the built-in dispatcher defaults.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		WorkerCount: 8,
		TaskTimeout: 5 * time.Minute,
	}
}

// Validate checks the dispatcher configuration.
func (c *DispatchConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("dispatch configuration is nil")
	}
	if c.WorkerCount < 1 || c.WorkerCount > 64 {
		return fmt.Errorf("worker_count must be between 1 and 64, got %d", c.WorkerCount)
	}
	return nil
}

// LLMConfig governs the OpenAI-compatible chat-completions client.
type LLMConfig struct {
	// Model is the model name sent with every request.
	Model string `yaml:"model"`

	// BaseURL targets an OpenAI-compatible endpoint. Empty means the
	// provider default.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// CallTimeout is the hard timeout on a single LLM call; one retry.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// SummaryMaxTokens bounds classifier summaries.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:            "gpt-4o-mini",
		APIKeyEnv:        "LLM_API_KEY",
		CallTimeout:      30 * time.Second,
		SummaryMaxTokens: 150,
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("llm configuration is nil")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.CallTimeout < time.Second {
		return fmt.Errorf("call_timeout must be at least 1s")
	}
	return nil
}

// ChatConfig governs the operator chat transport.
type ChatConfig struct {
	// TokenEnv names the environment variable holding the bot token.
	TokenEnv string `yaml:"token_env"`

	// ChannelEnv names the environment variable holding the channel id.
	ChannelEnv string `yaml:"channel_env"`

	// MaxMessageLen is the per-message size limit; longer payloads are
	// auto-chunked.
	MaxMessageLen int `yaml:"max_message_len"`

	// PollTimeout bounds a single updates poll.
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// DefaultChatConfig returns the built-in chat defaults.
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		TokenEnv:      "CHAT_BOT_TOKEN",
		ChannelEnv:    "CHAT_CHANNEL_ID",
		MaxMessageLen: 4000,
		PollTimeout:   10 * time.Second,
	}
}

// Validate checks the chat configuration.
func (c *ChatConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("chat configuration is nil")
	}
	if c.MaxMessageLen < 256 {
		return fmt.Errorf("max_message_len must be at least 256, got %d", c.MaxMessageLen)
	}
	return nil
}

// AlertsConfig governs outbound alert deduplication.
type AlertsConfig struct {
	// DedupCooldown is the per-(type,ticker,key) suppression window.
	DedupCooldown time.Duration `yaml:"dedup_cooldown"`

	// WriteFailureThreshold is how many critical write failures within
	// WriteFailureWindow raise an alert.
	WriteFailureThreshold int           `yaml:"write_failure_threshold"`
	WriteFailureWindow    time.Duration `yaml:"write_failure_window"`
}

// DefaultAlertsConfig returns the built-in alert defaults.
func DefaultAlertsConfig() *AlertsConfig {
	return &AlertsConfig{
		DedupCooldown:         24 * time.Hour,
		WriteFailureThreshold: 3,
		WriteFailureWindow:    time.Hour,
	}
}

// Validate checks the alerts configuration.
func (c *AlertsConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("alerts configuration is nil")
	}
	if c.DedupCooldown <= 0 {
		return fmt.Errorf("dedup_cooldown must be positive")
	}
	return nil
}

// ImproveConfig governs self-improvement pattern promotion.
type ImproveConfig struct {
	// PatternThreshold is the occurrence count that triggers a proposal.
	PatternThreshold int `yaml:"pattern_threshold"`

	// PatternWindow is the rolling window for counting occurrences.
	PatternWindow time.Duration `yaml:"pattern_window"`
}

// DefaultImproveConfig returns the built-in self-improvement defaults.
func DefaultImproveConfig() *ImproveConfig {
	return &ImproveConfig{
		PatternThreshold: 3,
		PatternWindow:    30 * 24 * time.Hour,
	}
}

// Validate checks the self-improvement configuration.
func (c *ImproveConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("improve configuration is nil")
	}
	if c.PatternThreshold < 1 {
		return fmt.Errorf("pattern_threshold must be at least 1")
	}
	return nil
}

// APIConfig governs the health/status HTTP endpoint used by systemd and
// operator probes in continuous mode.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Enabled: true,
		Addr:    ":8080",
	}
}

// Validate checks the API configuration.
func (c *APIConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("api configuration is nil")
	}
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("addr is required when api is enabled")
	}
	return nil
}
