package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 48*time.Hour, cfg.Poller.LookbackWindow)
	assert.Equal(t, 8, cfg.Dispatch.WorkerCount)
	assert.Equal(t, 24*time.Hour, cfg.Alerts.DedupCooldown)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacwatch.yaml")
	yaml := `
scheduler:
  tick_interval: 30s
  filing_poll_interval: 10m
poller:
  lookback_window: 72h
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.FilingPollInterval)
	assert.Equal(t, 72*time.Hour, cfg.Poller.LookbackWindow)

	// Untouched sections and fields keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.AcceleratedPollInterval)
	assert.Equal(t, 1000, cfg.Poller.SeenCap)
	assert.Equal(t, float64(10), cfg.HTTP.SECHostRPS)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spacwatch.yaml")
	// Accelerated interval exceeding the normal interval must be rejected.
	yaml := `
scheduler:
  filing_poll_interval: 1m
  accelerated_poll_interval: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accelerated_poll_interval")
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSchedulerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SchedulerConfig)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *SchedulerConfig) {},
			wantErr: "",
		},
		{
			name:    "tick too short",
			mutate:  func(c *SchedulerConfig) { c.TickInterval = 100 * time.Millisecond },
			wantErr: "tick_interval",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *SchedulerConfig) { c.MarketTimezone = "Mars/Olympus" },
			wantErr: "market_timezone",
		},
		{
			name:    "bad clock time",
			mutate:  func(c *SchedulerConfig) { c.DigestTime = "25:99" },
			wantErr: "clock time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSchedulerConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
