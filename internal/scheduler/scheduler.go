// Package scheduler runs the periodic jobs of the sync engine in a single
// cooperative loop: due jobs run one after another on the loop goroutine,
// the loop sleeps a fixed poll interval between checks, and the status
// record is persisted on every tick and after every job.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/aristath/gapfill/internal/catchup"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the sleep between two loop ticks.
const DefaultPollInterval = 30 * time.Second

type entry struct {
	spec     string
	schedule cron.Schedule
	job      Job
	next     time.Time
}

// Scheduler is the cooperative job loop.
type Scheduler struct {
	entries []*entry
	status  *Status
	store   *StatusStore
	poll    time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a scheduler. Counters and pauses from a previous run are
// carried over from the status file.
func New(store *StatusStore, poll time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	status, err := store.Load()
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = NewStatus()
	}
	status.Running = false

	return &Scheduler{
		status: status,
		store:  store,
		poll:   poll,
		now:    time.Now,
		log:    log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Status returns a copy of the current status record.
func (s *Scheduler) Status() Status {
	st := *s.status
	st.Jobs = make(map[string]*JobStatus, len(s.status.Jobs))
	for name, js := range s.status.Jobs {
		cp := *js
		st.Jobs[name] = &cp
	}
	return st
}

// Register adds a job on a standard five-field cron spec.
func (s *Scheduler) Register(spec string, job Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, job.Name(), err)
	}

	e := &entry{spec: spec, schedule: schedule, job: job, next: schedule.Next(s.now())}
	s.entries = append(s.entries, e)

	js := s.status.job(job.Name())
	js.Schedule = spec
	next := e.next
	js.NextRun = &next

	if r, ok := job.(restorer); ok {
		r.Restore(s.status)
	}

	s.log.Info().
		Str("job", job.Name()).
		Str("schedule", spec).
		Time("next_run", e.next).
		Msg("Registered job")
	return nil
}

// Bootstrap runs one eager gap check and, if anything is missing, one
// catch-up pass before the loop starts. The status file reports the
// process as running from here on.
func (s *Scheduler) Bootstrap(ctx context.Context, detector catchup.GapDetector, catchUp Job) {
	s.markRunning()

	detected, err := detector.DetectAllGaps(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Startup gap check failed")
		return
	}

	total := detected.Total()
	if total == 0 {
		s.log.Info().Msg("Startup gap check found no gaps")
		return
	}

	s.log.Info().
		Int("total_gaps", total).
		Interface("gaps_by_type", detected.Counts()).
		Msg("Startup gap check found gaps, running catch-up")
	s.runJob(ctx, catchUp)
	s.persist()
}

// Run starts the loop and blocks until ctx is cancelled. A job in progress
// when ctx is cancelled sees the cancellation through its own context.
func (s *Scheduler) Run(ctx context.Context) error {
	s.markRunning()

	s.log.Info().
		Int("jobs", len(s.entries)).
		Dur("poll_interval", s.poll).
		Msg("Scheduler started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.status.Running = false
			s.persist()
			s.log.Info().Msg("Scheduler stopped")
			return nil
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.poll)
		}
	}
}

// Tick runs every job that is due, then recomputes next runs and persists status.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, e := range s.entries {
		if ctx.Err() != nil {
			break
		}
		if s.now().Before(e.next) {
			continue
		}

		s.runJob(ctx, e.job)
		e.next = e.schedule.Next(s.now())
		next := e.next
		s.status.job(e.job.Name()).NextRun = &next
	}

	s.status.NextScheduledRun = s.nextRun()
	s.persist()
}

func (s *Scheduler) markRunning() {
	if s.status.Running {
		return
	}
	started := s.now()
	s.status.Running = true
	s.status.PID = os.Getpid()
	s.status.StartedAt = &started
	s.persist()
}

func (s *Scheduler) nextRun() *time.Time {
	var earliest time.Time
	for _, e := range s.entries {
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	if earliest.IsZero() {
		return nil
	}
	return &earliest
}

// runJob executes a job, recovering panics so the loop keeps going.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	name := job.Name()
	js := s.status.job(name)
	start := s.now()

	s.log.Info().Str("job", name).Msg("Running job")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
				s.log.Error().
					Str("job", name).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Job panicked")
			}
		}()
		return job.Run(ctx, s.status)
	}()

	duration := s.now().Sub(start)
	js.LastRun = &start
	js.LastDuration = duration.String()
	js.Runs++
	if err != nil {
		js.Failures++
		js.LastError = err.Error()
		s.log.Error().Err(err).Str("job", name).Dur("duration", duration).Msg("Job failed")
	} else {
		js.LastError = ""
		s.log.Info().Str("job", name).Dur("duration", duration).Msg("Job completed")
	}

	s.persist()
}

func (s *Scheduler) persist() {
	s.status.LastUpdated = s.now()
	if err := s.store.Save(s.status); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist scheduler status")
	}
}
