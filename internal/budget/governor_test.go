package budget

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestGovernor(t *testing.T, limit int) (*Governor, *fakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "api_usage.json")
	clock := &fakeClock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	g := NewGovernor(path, limit, zerolog.Nop())
	g.SetClock(clock.Now)
	return g, clock, path
}

func TestGovernor_LimitBoundary(t *testing.T) {
	g, _, _ := newTestGovernor(t, 250)

	assert.True(t, g.CanMakeRequest(250))
	assert.True(t, g.RecordRequest(250))
	assert.False(t, g.CanMakeRequest(1))

	// Soft enforcement: the request is still recorded
	assert.False(t, g.RecordRequest(1))
	s := g.Summary()
	assert.Equal(t, 251, s.Today)
	assert.Equal(t, 0, s.Remaining)
	assert.Equal(t, TierCritical, s.Recommendation)
}

func TestGovernor_PersistsAcrossRestarts(t *testing.T) {
	g, clock, path := newTestGovernor(t, 250)
	g.RecordRequest(3)
	g.RecordRequest(2)

	reloaded := NewGovernor(path, 250, zerolog.Nop())
	reloaded.SetClock(clock.Now)

	s := reloaded.Summary()
	assert.Equal(t, 5, s.Today)
	assert.Equal(t, 5, s.TotalRequests)
	assert.Equal(t, "2024-03-10", s.Date)
}

func TestGovernor_DayRollover(t *testing.T) {
	g, clock, path := newTestGovernor(t, 250)

	g.RecordRequest(40)
	clock.t = clock.t.AddDate(0, 0, 1)

	s := g.Summary()
	assert.Equal(t, 0, s.Today, "new day starts with a fresh bucket")
	assert.Equal(t, 40, s.TotalRequests, "running total is not reset")

	snap := g.Snapshot()
	assert.Equal(t, 40, snap.DailyCounts["2024-03-10"], "same-month history is kept")
	assert.Equal(t, "2024-03-11", snap.LastReset)

	g.RecordRequest(1)
	reloaded := NewGovernor(path, 250, zerolog.Nop())
	reloaded.SetClock(clock.Now)
	assert.Equal(t, 41, reloaded.Summary().TotalRequests)
}

func TestGovernor_RolloverPrunesPreviousMonth(t *testing.T) {
	g, clock, _ := newTestGovernor(t, 250)
	clock.t = time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(7)

	clock.t = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(2)

	snap := g.Snapshot()
	_, kept := snap.DailyCounts["2024-02-28"]
	assert.False(t, kept)
	assert.Equal(t, 2, snap.DailyCounts["2024-03-01"])
	assert.Equal(t, 9, snap.TotalRequests)
}

func TestGovernor_WeeklyAverage(t *testing.T) {
	g, clock, _ := newTestGovernor(t, 250)
	clock.t = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(14)

	clock.t = time.Date(2024, 3, 21, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(7)

	assert.InDelta(t, 3.0, g.Summary().WeeklyAverage, 1e-9)
}

func TestGovernor_WeeklyAverageEarlyInMonth(t *testing.T) {
	g, clock, _ := newTestGovernor(t, 250)
	clock.t = time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(100)

	clock.t = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(6)
	clock.t = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	g.RecordRequest(10)

	// Only March 1st and 2nd are retained, so they are the whole window
	assert.InDelta(t, 8.0, g.Summary().WeeklyAverage, 1e-9)
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		percent float64
		want    Tier
	}{
		{0, TierOK},
		{49.9, TierOK},
		{50, TierCaution},
		{74.9, TierCaution},
		{75, TierWarning},
		{89.9, TierWarning},
		{90, TierCritical},
		{120, TierCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.percent), "percent=%v", tt.percent)
	}
}

func TestGovernor_UsagePercent(t *testing.T) {
	g, _, _ := newTestGovernor(t, 200)
	g.RecordRequest(50)
	assert.InDelta(t, 25.0, g.UsagePercent(), 1e-9)
	assert.Equal(t, 200, g.DailyLimit())
}

func TestGovernor_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api_usage.json")
	require.NoError(t, writeFile(path, "{broken"))

	g := NewGovernor(path, 250, zerolog.Nop())
	assert.True(t, g.CanMakeRequest(250))
	assert.True(t, g.RecordRequest(1))
}

func TestNewGovernor_DefaultLimit(t *testing.T) {
	g := NewGovernor("", 0, zerolog.Nop())
	assert.Equal(t, DefaultDailyLimit, g.DailyLimit())
}
