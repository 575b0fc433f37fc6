package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/catchup"
	"github.com/aristath/gapfill/internal/refresh"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Job is a unit of periodic work. Run may update the status it is handed;
// the scheduler persists it afterwards.
type Job interface {
	Name() string
	Run(ctx context.Context, st *Status) error
}

// restorer is implemented by jobs that pick up state from a previous process.
type restorer interface {
	Restore(st *Status)
}

// Refresher is the daily updater collaborator.
type Refresher interface {
	UpdateAll(ctx context.Context) (refresh.Result, error)
}

// DailyRefreshJob runs the daily updater and tracks consecutive failures.
type DailyRefreshJob struct {
	updater Refresher
	now     func() time.Time
	log     zerolog.Logger
}

// NewDailyRefreshJob creates a new DailyRefreshJob
func NewDailyRefreshJob(updater Refresher) *DailyRefreshJob {
	return &DailyRefreshJob{updater: updater, now: time.Now, log: zerolog.Nop()}
}

// SetLogger sets the logger for the job
func (j *DailyRefreshJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *DailyRefreshJob) Name() string {
	return "daily_refresh"
}

// Run executes the daily refresh
func (j *DailyRefreshJob) Run(ctx context.Context, st *Status) error {
	result, err := j.updater.UpdateAll(ctx)
	st.LastRefresh = &result
	if err != nil {
		st.ConsecutiveFailures++
		j.log.Error().Err(err).Int("consecutive_failures", st.ConsecutiveFailures).Msg("Daily refresh failed")
		return err
	}

	now := j.now()
	st.LastSuccessfulUpdate = &now
	st.ConsecutiveFailures = 0
	return nil
}

// Catcher runs catch-up passes.
type Catcher interface {
	RunPass(ctx context.Context) (catchup.PassResult, error)
	PausedUntil() *time.Time
	RestorePause(until time.Time)
}

// CatchUpJob runs one catch-up pass.
type CatchUpJob struct {
	orchestrator Catcher
	log          zerolog.Logger
}

// NewCatchUpJob creates a new CatchUpJob
func NewCatchUpJob(orchestrator Catcher) *CatchUpJob {
	return &CatchUpJob{orchestrator: orchestrator, log: zerolog.Nop()}
}

// SetLogger sets the logger for the job
func (j *CatchUpJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *CatchUpJob) Name() string {
	return "catchup"
}

// Restore reinstates a breaker pause recorded by a previous process.
func (j *CatchUpJob) Restore(st *Status) {
	if st.CatchUpPausedUntil == nil {
		return
	}
	j.orchestrator.RestorePause(*st.CatchUpPausedUntil)
	if until := j.orchestrator.PausedUntil(); until != nil {
		j.log.Info().Time("paused_until", *until).Msg("Restored catch-up pause")
	}
}

// Run executes one catch-up pass
func (j *CatchUpJob) Run(ctx context.Context, st *Status) error {
	result, err := j.orchestrator.RunPass(ctx)
	st.CatchUpPausedUntil = j.orchestrator.PausedUntil()
	if err != nil {
		return fmt.Errorf("catch-up pass failed: %w", err)
	}
	st.LastCatchUp = &result
	return nil
}

// GapCounter reports ledger rows per status.
type GapCounter interface {
	Counts(ctx context.Context) (map[string]int, error)
}

// DatabaseChecker verifies database integrity.
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthReport is the observability snapshot written by HealthCheckJob.
type HealthReport struct {
	CheckedAt     time.Time      `json:"checked_at"`
	TotalGaps     int            `json:"total_gaps"`
	GapsByType    map[string]int `json:"gaps_by_type"`
	LedgerCounts  map[string]int `json:"ledger_counts,omitempty"`
	CPUPercent    float64        `json:"cpu_percent"`
	MemoryPercent float64        `json:"memory_percent"`
}

// HealthCheckJob detects gaps for reporting only; it never fills them.
type HealthCheckJob struct {
	detector catchup.GapDetector
	ledger   GapCounter
	db       DatabaseChecker
	now      func() time.Time
	log      zerolog.Logger
}

// NewHealthCheckJob creates a new HealthCheckJob. ledger and db are optional.
func NewHealthCheckJob(detector catchup.GapDetector, ledger GapCounter, db DatabaseChecker) *HealthCheckJob {
	return &HealthCheckJob{detector: detector, ledger: ledger, db: db, now: time.Now, log: zerolog.Nop()}
}

// SetLogger sets the logger for the job
func (j *HealthCheckJob) SetLogger(log zerolog.Logger) {
	j.log = log.With().Str("job", j.Name()).Logger()
}

// Name returns the job name
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run executes the health check
func (j *HealthCheckJob) Run(ctx context.Context, st *Status) error {
	if j.db != nil {
		if err := j.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	detected, err := j.detector.DetectAllGaps(ctx)
	if err != nil {
		return fmt.Errorf("gap detection failed: %w", err)
	}

	report := &HealthReport{
		CheckedAt:  j.now(),
		TotalGaps:  detected.Total(),
		GapsByType: detected.Counts(),
	}

	if j.ledger != nil {
		counts, err := j.ledger.Counts(ctx)
		if err != nil {
			j.log.Warn().Err(err).Msg("Failed to count ledger rows")
		} else {
			report.LedgerCounts = counts
		}
	}

	report.CPUPercent, report.MemoryPercent = j.systemStats()
	st.LastHealthCheck = report

	event := j.log.Info()
	if report.TotalGaps > 0 {
		event = j.log.Warn()
	}
	event.
		Int("total_gaps", report.TotalGaps).
		Interface("gaps_by_type", report.GapsByType).
		Float64("cpu_percent", report.CPUPercent).
		Float64("memory_percent", report.MemoryPercent).
		Msg("Health check complete")

	return nil
}

// systemStats samples host CPU and RAM usage. Failures are logged and reported as zero.
func (j *HealthCheckJob) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
