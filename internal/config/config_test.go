package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GAPFILL_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 250, cfg.FMPDailyLimit)
	assert.Equal(t, "0 18 * * *", cfg.DailyRefreshSchedule)
	assert.Equal(t, "0 */4 * * *", cfg.HealthCheckSchedule)
	assert.Equal(t, "0 * * * *", cfg.CatchUpSchedule)
	assert.Equal(t, 2*time.Second, cfg.CatchUpItemDelay)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.False(t, cfg.HasPrimaryCredential())
	assert.Empty(t, cfg.Symbols)
	assert.Equal(t, filepath.Join(dir, "market.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "scheduler_status.json"), cfg.StatusPath())
}

func TestLoad_LogPrettyFollowsTerminal(t *testing.T) {
	t.Setenv("GAPFILL_DATA_DIR", t.TempDir())
	t.Setenv("LOG_PRETTY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, isatty.IsTerminal(os.Stdout.Fd()), cfg.LogPretty)

	t.Setenv("LOG_PRETTY", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.LogPretty)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GAPFILL_DATA_DIR", t.TempDir())
	t.Setenv("FMP_API_KEY", "secret")
	t.Setenv("FMP_DAILY_LIMIT", "500")
	t.Setenv("SYMBOLS", " aapl, msft ,,nvda")
	t.Setenv("CATCHUP_ITEM_DELAY", "500ms")
	t.Setenv("STATUS_PORT", "8090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.HasPrimaryCredential())
	assert.Equal(t, 500, cfg.FMPDailyLimit)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, cfg.Symbols)
	assert.Equal(t, 500*time.Millisecond, cfg.CatchUpItemDelay)
	assert.Equal(t, 8090, cfg.StatusPort)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("GAPFILL_DATA_DIR", t.TempDir())
	t.Setenv("FMP_DAILY_LIMIT", "lots")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.FMPDailyLimit)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			FMPDailyLimit:        250,
			CatchUpRetryLimit:    50,
			PollInterval:         time.Second,
			DailyRefreshSchedule: "0 18 * * *",
			HealthCheckSchedule:  "0 */4 * * *",
			CatchUpSchedule:      "@hourly",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero limit", func(c *Config) { c.FMPDailyLimit = 0 }, "FMP_DAILY_LIMIT"},
		{"zero retry limit", func(c *Config) { c.CatchUpRetryLimit = 0 }, "CATCHUP_RETRY_LIMIT"},
		{"negative delay", func(c *Config) { c.CatchUpItemDelay = -time.Second }, "CATCHUP_ITEM_DELAY"},
		{"bad cron", func(c *Config) { c.CatchUpSchedule = "every hour" }, "CATCHUP_SCHEDULE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
