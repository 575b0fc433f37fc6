// Package refresh implements the daily updater: a short trailing price
// window for every configured symbol, fetched through the provider router.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultWindow is how many trailing days each refresh re-fetches.
const DefaultWindow = 7

// Fetcher is the fallback-capable fetch routine.
type Fetcher interface {
	Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult
}

// Store persists fetched data.
type Store interface {
	Persist(ctx context.Context, source string, data domain.Dataset) (int, error)
}

// Result summarises one refresh.
type Result struct {
	Symbols int      `json:"symbols"`
	Updated int      `json:"updated"`
	Empty   int      `json:"empty"`
	Failed  []string `json:"failed,omitempty"`
	Rows    int      `json:"rows"`
}

// Updater refreshes recent prices.
type Updater struct {
	fetcher Fetcher
	store   Store
	symbols []string
	window  int
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

// NewUpdater creates an updater. delay spaces consecutive symbols apart.
func NewUpdater(fetcher Fetcher, store Store, symbols []string, delay time.Duration, log zerolog.Logger) *Updater {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Updater{
		fetcher: fetcher,
		store:   store,
		symbols: symbols,
		window:  DefaultWindow,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		log:     log.With().Str("service", "daily_refresh").Logger(),
	}
}

// SetClock overrides the time source
func (u *Updater) SetClock(now func() time.Time) {
	u.now = now
}

// UpdateAll refreshes every symbol. A symbol that fails is logged and
// skipped; an error is returned only when no symbol could be refreshed.
func (u *Updater) UpdateAll(ctx context.Context) (Result, error) {
	defer utils.OperationTimer("daily_refresh", u.log)()

	result := Result{Symbols: len(u.symbols)}
	if len(u.symbols) == 0 {
		u.log.Warn().Msg("No symbols configured, nothing to refresh")
		return result, nil
	}

	today := u.now().UTC()
	from := today.AddDate(0, 0, -u.window).Format("2006-01-02")
	to := today.Format("2006-01-02")

	for _, symbol := range u.symbols {
		if err := u.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("refresh interrupted: %w", err)
		}

		gap := domain.Gap{
			Symbol:    symbol,
			Type:      domain.GapHistoricalPrices,
			StartDate: from,
			EndDate:   to,
			Priority:  3,
		}
		fetched := u.fetcher.Fetch(ctx, gap)
		switch {
		case fetched.Outcome == domain.OutcomeSuccess && !fetched.Absent():
			rows, err := u.store.Persist(ctx, fetched.Provider, fetched.Dataset)
			if err != nil {
				u.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to store refreshed prices")
				result.Failed = append(result.Failed, symbol)
				continue
			}
			result.Updated++
			result.Rows += rows
		case fetched.Absent():
			// Weekends and holidays can leave the window empty
			result.Empty++
		default:
			u.log.Warn().
				Str("symbol", symbol).
				Str("outcome", fetched.Outcome.String()).
				Str("error", fetched.Error()).
				Msg("Failed to refresh prices")
			result.Failed = append(result.Failed, symbol)
		}
	}

	u.log.Info().
		Int("symbols", result.Symbols).
		Int("updated", result.Updated).
		Int("empty", result.Empty).
		Int("failed", len(result.Failed)).
		Int("rows", result.Rows).
		Msg("Daily refresh complete")

	if len(result.Failed) == len(u.symbols) {
		return result, fmt.Errorf("daily refresh failed for all %d symbols", len(u.symbols))
	}
	return result, nil
}
