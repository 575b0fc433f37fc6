// Package budget enforces the daily request ceiling of the metered provider
// and keeps a rolling audit log of the requests made against it.
package budget

import (
	"strings"
	"sync"
	"time"

	"github.com/aristath/gapfill/internal/utils"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// DefaultDailyLimit is the primary provider's free-tier allowance.
const DefaultDailyLimit = 250

const dayLayout = "2006-01-02"

// Tier is the usage recommendation reported by Summary.
type Tier string

const (
	TierOK       Tier = "OK"
	TierCaution  Tier = "CAUTION"
	TierWarning  Tier = "WARNING"
	TierCritical Tier = "CRITICAL"
)

// Tier thresholds in percent of the daily limit.
const (
	CautionPercent  = 50.0
	WarningPercent  = 75.0
	CriticalPercent = 90.0
)

// TierFor maps a usage percentage to its recommendation tier.
func TierFor(percent float64) Tier {
	switch {
	case percent >= CriticalPercent:
		return TierCritical
	case percent >= WarningPercent:
		return TierWarning
	case percent >= CautionPercent:
		return TierCaution
	default:
		return TierOK
	}
}

// Usage is the persisted counter file.
type Usage struct {
	DailyCounts   map[string]int `json:"daily_counts"`
	TotalRequests int            `json:"total_requests"`
	LastReset     string         `json:"last_reset"`
}

// Summary is a point-in-time view of today's usage.
type Summary struct {
	Date           string  `json:"date"`
	Today          int     `json:"today"`
	DailyLimit     int     `json:"daily_limit"`
	Remaining      int     `json:"remaining"`
	PercentUsed    float64 `json:"percent_used"`
	WeeklyAverage  float64 `json:"weekly_average"`
	TotalRequests  int     `json:"total_requests"`
	Recommendation Tier    `json:"recommendation"`
}

// Governor tracks per-day request counts for the primary provider.
// Counts are advisory: RecordRequest always records, even past the limit.
type Governor struct {
	mu    sync.Mutex
	path  string
	limit int
	usage Usage
	now   func() time.Time
	log   zerolog.Logger
}

// NewGovernor loads usage from path (if present) and returns a governor.
// An unreadable usage file is logged and replaced by empty counters.
func NewGovernor(path string, dailyLimit int, log zerolog.Logger) *Governor {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimit
	}
	g := &Governor{
		path:  path,
		limit: dailyLimit,
		now:   time.Now,
		log:   log.With().Str("component", "budget_governor").Logger(),
	}

	var usage Usage
	if _, err := utils.ReadJSON(path, &usage); err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("Failed to load usage file, starting fresh")
		usage = Usage{}
	}
	if usage.DailyCounts == nil {
		usage.DailyCounts = make(map[string]int)
	}
	g.usage = usage
	return g
}

// SetClock replaces the time source (tests).
func (g *Governor) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// DailyLimit returns the configured ceiling.
func (g *Governor) DailyLimit() int {
	return g.limit
}

// CanMakeRequest reports whether n more requests fit in today's budget.
func (g *Governor) CanMakeRequest(n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.rollover()
	return g.usage.DailyCounts[today]+n <= g.limit
}

// RecordRequest adds n requests to today's count and persists the counters.
// It returns whether today's total is still within the limit afterwards.
func (g *Governor) RecordRequest(n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.rollover()
	g.usage.DailyCounts[today] += n
	g.usage.TotalRequests += n
	g.save()

	count := g.usage.DailyCounts[today]
	within := count <= g.limit
	if !within {
		g.log.Warn().
			Int("today", count).
			Int("limit", g.limit).
			Msg("Daily request budget exceeded")
	}
	return within
}

// UsagePercent returns today's usage as a percentage of the limit.
func (g *Governor) UsagePercent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.rollover()
	return g.percent(g.usage.DailyCounts[today])
}

// Summary reports today's count, remaining budget, percent used, the average
// over the 7 days ending today and the recommendation tier.
func (g *Governor) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.rollover()
	count := g.usage.DailyCounts[today]
	percent := g.percent(count)

	remaining := g.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Summary{
		Date:           today,
		Today:          count,
		DailyLimit:     g.limit,
		Remaining:      remaining,
		PercentUsed:    percent,
		WeeklyAverage:  g.weeklyAverage(),
		TotalRequests:  g.usage.TotalRequests,
		Recommendation: TierFor(percent),
	}
}

// Snapshot returns a copy of the persisted counters.
func (g *Governor) Snapshot() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	counts := make(map[string]int, len(g.usage.DailyCounts))
	for k, v := range g.usage.DailyCounts {
		counts[k] = v
	}
	return Usage{DailyCounts: counts, TotalRequests: g.usage.TotalRequests, LastReset: g.usage.LastReset}
}

func (g *Governor) percent(count int) float64 {
	return float64(count) / float64(g.limit) * 100
}

// weeklyAverage averages the 7 days ending today; days without records count
// as zero. The window stops at the first of the month since earlier days are
// pruned on rollover.
func (g *Governor) weeklyAverage() float64 {
	now := g.now()
	values := make([]float64, 0, 7)
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, -i)
		if day.Month() != now.Month() {
			break
		}
		values = append(values, float64(g.usage.DailyCounts[day.Format(dayLayout)]))
	}
	return stat.Mean(values, nil)
}

// rollover detects a new day lazily. History outside the current month is
// pruned; the running total is kept. Must be called with mu held.
func (g *Governor) rollover() string {
	now := g.now()
	today := now.Format(dayLayout)
	if g.usage.LastReset == today {
		return today
	}

	month := now.Format("2006-01")
	pruned := 0
	for day := range g.usage.DailyCounts {
		if !strings.HasPrefix(day, month) {
			delete(g.usage.DailyCounts, day)
			pruned++
		}
	}

	previous := g.usage.LastReset
	g.usage.LastReset = today
	g.save()

	g.log.Info().
		Str("previous", previous).
		Str("today", today).
		Int("pruned_days", pruned).
		Msg("Usage counters rolled over to new day")
	return today
}

// save persists the counters. Must be called with mu held.
func (g *Governor) save() {
	if g.path == "" {
		return
	}
	if err := utils.WriteJSONAtomic(g.path, g.usage); err != nil {
		g.log.Error().Err(err).Str("path", g.path).Msg("Failed to persist usage counters")
	}
}
