package di

import (
	"fmt"

	"github.com/aristath/gapfill/internal/config"
	"github.com/aristath/gapfill/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler jobs from container services.
func RegisterJobs(container *Container, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Orchestrator == nil {
		return nil, fmt.Errorf("container services not initialized")
	}

	dailyRefresh := scheduler.NewDailyRefreshJob(container.Updater)
	dailyRefresh.SetLogger(log)

	catchUp := scheduler.NewCatchUpJob(container.Orchestrator)
	catchUp.SetLogger(log)

	healthCheck := scheduler.NewHealthCheckJob(container.Detector, container.Ledger, container.MarketDB)
	healthCheck.SetLogger(log)

	return &JobInstances{
		DailyRefresh: dailyRefresh,
		CatchUp:      catchUp,
		HealthCheck:  healthCheck,
	}, nil
}

// NewScheduler builds the loop and registers every job on its configured schedule.
func NewScheduler(cfg *config.Config, jobs *JobInstances, log zerolog.Logger) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(scheduler.NewStatusStore(cfg.StatusPath()), cfg.PollInterval, log)
	if err != nil {
		return nil, err
	}

	registrations := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.DailyRefreshSchedule, jobs.DailyRefresh},
		{cfg.HealthCheckSchedule, jobs.HealthCheck},
		{cfg.CatchUpSchedule, jobs.CatchUp},
	}
	for _, r := range registrations {
		if err := sched.Register(r.spec, r.job); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
