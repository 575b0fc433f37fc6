package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/gapfill/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:              t.TempDir(),
		FMPDailyLimit:        250,
		YahooBaseURL:         "http://127.0.0.1:1",
		YahooCookieURL:       "http://127.0.0.1:1",
		Symbols:              []string{"AAPL", "MSFT"},
		DailyRefreshSchedule: "0 18 * * *",
		HealthCheckSchedule:  "0 */4 * * *",
		CatchUpSchedule:      "0 * * * *",
		CatchUpItemDelay:     0,
		CatchUpRetryLimit:    50,
		PollInterval:         time.Second,
	}
}

func TestWire_WithoutCredential(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.MarketDB)
	assert.NotNil(t, container.Ledger)
	assert.NotNil(t, container.Router)
	assert.NotNil(t, container.Orchestrator)
	assert.Nil(t, container.Primary)

	assert.Equal(t, "daily_refresh", jobs.DailyRefresh.Name())
	assert.Equal(t, "catchup", jobs.CatchUp.Name())
	assert.Equal(t, "health_check", jobs.HealthCheck.Name())

	// Schema is in place: the ledger can be queried
	counts, err := container.Ledger.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts["pending"])

	// An empty store means every symbol has every gap
	detected, err := container.Detector.DetectAllGaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, detected.Total())
}

func TestWire_WithCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.FMPAPIKey = "test-key"

	container, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	require.NotNil(t, container.Primary)
	assert.Equal(t, "fmp", container.Primary.Name())
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	cfg := testConfig(t)
	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	sched, err := NewScheduler(cfg, jobs, zerolog.Nop())
	require.NoError(t, err)

	status := sched.Status()
	require.Len(t, status.Jobs, 3)
	assert.Equal(t, "0 18 * * *", status.Jobs["daily_refresh"].Schedule)
	assert.Equal(t, "0 * * * *", status.Jobs["catchup"].Schedule)
	assert.NotNil(t, status.Jobs["health_check"].NextRun)
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	cfg.CatchUpSchedule = "hourly"
	_, err = NewScheduler(cfg, jobs, zerolog.Nop())
	assert.Error(t, err)
}
