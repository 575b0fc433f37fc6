package di

import (
	"fmt"

	"github.com/aristath/gapfill/internal/budget"
	"github.com/aristath/gapfill/internal/catchup"
	"github.com/aristath/gapfill/internal/clients/fmp"
	"github.com/aristath/gapfill/internal/clients/yahoo"
	"github.com/aristath/gapfill/internal/config"
	"github.com/aristath/gapfill/internal/failover"
	"github.com/aristath/gapfill/internal/gapdetect"
	"github.com/aristath/gapfill/internal/gaps"
	"github.com/aristath/gapfill/internal/marketdata"
	"github.com/aristath/gapfill/internal/provider"
	"github.com/aristath/gapfill/internal/ratelimit"
	"github.com/aristath/gapfill/internal/refresh"
	"github.com/rs/zerolog"
)

// InitializeServices builds state stores, providers and services on top of
// an initialized database.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.MarketDB == nil {
		return fmt.Errorf("container database not initialized")
	}
	conn := container.MarketDB.Conn()

	container.Ledger = gaps.NewLedger(conn, log)
	container.Store = marketdata.NewStore(conn, log)
	container.Governor = budget.NewGovernor(cfg.UsagePath(), cfg.FMPDailyLimit, log)
	container.Audit = budget.NewAuditLog(cfg.RequestLogPath(), budget.DefaultAuditEntries, log)
	container.Tracker = ratelimit.NewTracker(cfg.RateLimitPath(), log)

	container.Selector = failover.NewSelector(cfg.HasPrimaryCredential(), container.Governor, container.Tracker)
	container.Fallback = yahoo.NewClient(cfg.YahooBaseURL, cfg.YahooCookieURL, log)

	// Interface stays nil (not a typed nil) without a credential
	var primary provider.Provider
	if cfg.HasPrimaryCredential() {
		container.Primary = fmp.NewClient(cfg.FMPBaseURL, cfg.FMPAPIKey, container.Governor, container.Tracker, container.Audit, log)
		primary = container.Primary
	} else {
		log.Warn().Msg("FMP_API_KEY not set, all requests go to the fallback provider")
	}
	container.Router = provider.NewRouter(primary, container.Fallback, container.Selector, container.Tracker, log)

	container.Detector = gapdetect.NewCoverageDetector(container.Store, cfg.Symbols, log)
	container.Orchestrator = catchup.New(
		container.Detector,
		container.Ledger,
		container.Router,
		container.Store,
		catchup.Config{ItemDelay: cfg.CatchUpItemDelay, RetryLimit: cfg.CatchUpRetryLimit},
		log,
	)
	container.Updater = refresh.NewUpdater(container.Router, container.Store, cfg.Symbols, cfg.CatchUpItemDelay, log)

	log.Info().
		Int("symbols", len(cfg.Symbols)).
		Bool("primary_configured", container.Primary != nil).
		Int("daily_limit", container.Governor.DailyLimit()).
		Msg("Services initialized")
	return nil
}
