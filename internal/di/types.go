// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/gapfill/internal/budget"
	"github.com/aristath/gapfill/internal/catchup"
	"github.com/aristath/gapfill/internal/clients/fmp"
	"github.com/aristath/gapfill/internal/clients/yahoo"
	"github.com/aristath/gapfill/internal/database"
	"github.com/aristath/gapfill/internal/failover"
	"github.com/aristath/gapfill/internal/gapdetect"
	"github.com/aristath/gapfill/internal/gaps"
	"github.com/aristath/gapfill/internal/marketdata"
	"github.com/aristath/gapfill/internal/provider"
	"github.com/aristath/gapfill/internal/ratelimit"
	"github.com/aristath/gapfill/internal/refresh"
	"github.com/aristath/gapfill/internal/scheduler"
)

// Container holds every long-lived component of the sync engine.
type Container struct {
	MarketDB *database.DB // ledger and market data tables

	// Durable state
	Ledger   *gaps.Ledger
	Store    *marketdata.Store
	Governor *budget.Governor
	Audit    *budget.AuditLog
	Tracker  *ratelimit.Tracker

	// Providers
	Selector *failover.Selector
	Primary  *fmp.Client // nil without an API key
	Fallback *yahoo.Client
	Router   *provider.Router

	// Services
	Detector     *gapdetect.CoverageDetector
	Orchestrator *catchup.Orchestrator
	Updater      *refresh.Updater
}

// Close releases the database.
func (c *Container) Close() error {
	if c.MarketDB == nil {
		return nil
	}
	return c.MarketDB.Close()
}

// JobInstances holds the scheduler jobs.
type JobInstances struct {
	DailyRefresh *scheduler.DailyRefreshJob
	CatchUp      *scheduler.CatchUpJob
	HealthCheck  *scheduler.HealthCheckJob
}
