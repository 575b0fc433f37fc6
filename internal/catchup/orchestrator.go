// Package catchup drains detected data gaps through the providers, one item
// at a time, and writes the outcome of every attempt back to the gap ledger.
//
// A pass builds its queue from retry-ready ledger rows followed by freshly
// detected gaps, skipping anything still inside its retry delay. Rate-limit
// outcomes feed a per-pass breaker: once three have been seen in a row the
// pass stops and further passes are skipped until the pause expires.
package catchup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// BreakerThreshold is the number of consecutive rate-limit outcomes that trips the breaker.
	BreakerThreshold = 3
	// BreakerPause is how long passes are skipped after the breaker trips.
	BreakerPause = time.Hour
	// DefaultItemDelay is the pause after each item of a pass, measured from
	// the end of the item.
	DefaultItemDelay = 2 * time.Second
	// DefaultRetryLimit caps the retry-ready rows pulled into one pass.
	DefaultRetryLimit = 50
)

// ErrPassInProgress is returned when a pass is requested while another runs.
var ErrPassInProgress = errors.New("catch-up pass already in progress")

// GapDetector reports the gaps that currently exist.
type GapDetector interface {
	DetectAllGaps(ctx context.Context) (domain.GapsByType, error)
}

// Ledger is the retry bookkeeping the orchestrator reads and writes.
type Ledger interface {
	RecordAttempt(ctx context.Context, gap domain.Gap, errorType domain.ErrorType, message string) error
	MarkUnavailable(ctx context.Context, gap domain.Gap, reason string) error
	Resolve(ctx context.Context, gap domain.Gap) error
	GetRetryReady(ctx context.Context, limit int) ([]domain.GapRecord, error)
	GetWaiting(ctx context.Context) ([]domain.GapRecord, error)
}

// Fetcher is the fallback-capable fetch routine.
type Fetcher interface {
	Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult
}

// Store persists fetched data.
type Store interface {
	Persist(ctx context.Context, source string, data domain.Dataset) (int, error)
}

// Config tunes a pass.
type Config struct {
	ItemDelay  time.Duration
	RetryLimit int
}

// PassResult summarises one pass.
type PassResult struct {
	Queued      int        `json:"queued"`
	Attempted   int        `json:"attempted"`
	Filled      int        `json:"filled"`      // real data persisted
	Unavailable int        `json:"unavailable"` // provider confirmed no data
	RateLimited int        `json:"rate_limited"`
	Errors      int        `json:"errors"`
	Tripped     bool       `json:"tripped"`
	Skipped     bool       `json:"skipped"` // a breaker pause was still active
	Cancelled   bool       `json:"cancelled"`
	PausedUntil *time.Time `json:"paused_until,omitempty"`
}

// Completed counts the items that advanced the queue: filled plus unavailable.
func (r PassResult) Completed() int {
	return r.Filled + r.Unavailable
}

// Orchestrator runs catch-up passes. Only one pass runs at a time.
type Orchestrator struct {
	detector   GapDetector
	ledger     Ledger
	fetcher    Fetcher
	store      Store
	retryLimit int
	itemDelay  time.Duration
	now        func() time.Time
	log        zerolog.Logger

	running     atomic.Bool
	mu          sync.Mutex
	pausedUntil time.Time
}

// New creates an orchestrator.
func New(detector GapDetector, ledger Ledger, fetcher Fetcher, store Store, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}

	return &Orchestrator{
		detector:   detector,
		ledger:     ledger,
		fetcher:    fetcher,
		store:      store,
		retryLimit: cfg.RetryLimit,
		itemDelay:  cfg.ItemDelay,
		now:        time.Now,
		log:        log.With().Str("component", "catchup").Logger(),
	}
}

// SetClock overrides the time source
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// PausedUntil returns the breaker pause, or nil when none is active.
func (o *Orchestrator) PausedUntil() *time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pausedUntil.IsZero() || !o.pausedUntil.After(o.now()) {
		return nil
	}
	t := o.pausedUntil
	return &t
}

// RestorePause reinstates a pause persisted by a previous process.
func (o *Orchestrator) RestorePause(until time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pausedUntil = until
}

func (o *Orchestrator) trip() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pausedUntil = o.now().Add(BreakerPause)
	return o.pausedUntil
}

// RunPass runs one catch-up pass. Errors are returned only when the queue
// could not be built; per-item failures end up in the ledger and the result.
// Cancelling ctx stops the pass between items; the item in flight finishes.
func (o *Orchestrator) RunPass(ctx context.Context) (PassResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer o.running.Store(false)

	var result PassResult
	if until := o.PausedUntil(); until != nil {
		o.log.Info().Time("paused_until", *until).Msg("Catch-up paused by circuit breaker, skipping pass")
		result.Skipped = true
		result.PausedUntil = until
		return result, nil
	}

	timer := utils.NewTimer("catchup_pass", o.log)

	queue, err := o.buildQueue(ctx)
	if err != nil {
		return result, err
	}
	result.Queued = len(queue)
	if len(queue) == 0 {
		o.log.Debug().Msg("No gaps to catch up")
		return result, nil
	}

	o.log.Info().Int("queued", len(queue)).Msg("Starting catch-up pass")

	consecutive := 0
	for i, gap := range queue {
		if consecutive >= BreakerThreshold {
			until := o.trip()
			result.Tripped = true
			result.PausedUntil = &until
			o.log.Warn().
				Int("consecutive_errors", consecutive).
				Time("paused_until", until).
				Int("remaining", len(queue)-result.Attempted).
				Msg("Circuit breaker tripped, pausing catch-up")
			break
		}

		result.Attempted++
		switch o.processItem(ctx, gap) {
		case itemFilled:
			result.Filled++
			consecutive = 0
		case itemUnavailable:
			result.Unavailable++
			consecutive = 0
		case itemRateLimited:
			result.RateLimited++
			consecutive++
		case itemError:
			result.Errors++
		}

		if ctx.Err() != nil {
			result.Cancelled = result.Attempted < len(queue)
			break
		}

		if i < len(queue)-1 && consecutive < BreakerThreshold && !o.sleep(ctx) {
			result.Cancelled = true
			break
		}
	}

	timer.StopWithFields(map[string]interface{}{
		"attempted": result.Attempted,
		"filled":    result.Filled,
	})
	o.log.Info().
		Int("queued", result.Queued).
		Int("attempted", result.Attempted).
		Int("filled", result.Filled).
		Int("unavailable", result.Unavailable).
		Int("rate_limited", result.RateLimited).
		Int("errors", result.Errors).
		Bool("tripped", result.Tripped).
		Bool("cancelled", result.Cancelled).
		Msg("Catch-up pass complete")

	return result, nil
}

// sleep waits out the item delay. It returns false if ctx is cancelled first.
func (o *Orchestrator) sleep(ctx context.Context) bool {
	if o.itemDelay <= 0 {
		return true
	}
	t := time.NewTimer(o.itemDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// buildQueue returns retry-ready gaps followed by freshly detected ones,
// minus anything still waiting out its retry delay. Each (symbol, type) pair
// appears once.
func (o *Orchestrator) buildQueue(ctx context.Context) ([]domain.Gap, error) {
	detected, err := o.detector.DetectAllGaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect gaps: %w", err)
	}
	retryReady, err := o.ledger.GetRetryReady(ctx, o.retryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load retry-ready gaps: %w", err)
	}
	waiting, err := o.ledger.GetWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load waiting gaps: %w", err)
	}

	seen := make(map[domain.GapKey]bool, len(waiting)+len(retryReady))
	for _, rec := range waiting {
		seen[rec.Key()] = true
	}

	queue := make([]domain.Gap, 0, len(retryReady)+detected.Total())
	for _, rec := range retryReady {
		if seen[rec.Key()] {
			continue
		}
		seen[rec.Key()] = true
		queue = append(queue, rec.Gap)
	}

	var fresh []domain.Gap
	for _, gapType := range domain.AllGapTypes {
		for _, gap := range detected[gapType] {
			if gap.Type == "" {
				gap.Type = gapType
			}
			if seen[gap.Key()] {
				continue
			}
			seen[gap.Key()] = true
			fresh = append(fresh, gap)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Priority > fresh[j].Priority })

	o.log.Debug().
		Int("retry_ready", len(retryReady)).
		Int("waiting", len(waiting)).
		Int("detected", detected.Total()).
		Int("fresh", len(fresh)).
		Msg("Built catch-up queue")

	return append(queue, fresh...), nil
}

type itemOutcome int

const (
	itemFilled itemOutcome = iota
	itemUnavailable
	itemRateLimited
	itemError
)

// processItem fetches one gap and records the outcome. The fetch and the
// ledger writes run detached from ctx so the item finishes on shutdown.
func (o *Orchestrator) processItem(ctx context.Context, gap domain.Gap) itemOutcome {
	ctx = context.WithoutCancel(ctx)
	log := o.log.With().Str("symbol", gap.Symbol).Str("gap_type", string(gap.Type)).Logger()

	result := o.fetcher.Fetch(ctx, gap)
	switch result.Outcome {
	case domain.OutcomeSuccess:
		if result.Absent() {
			o.markUnavailable(ctx, log, gap, "no data returned by "+result.Provider)
			return itemUnavailable
		}
		rows, err := o.store.Persist(ctx, result.Provider, result.Dataset)
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist fetched data")
			o.recordAttempt(ctx, log, gap, domain.ErrorStoreWrite, err.Error())
			return itemError
		}
		if err := o.ledger.Resolve(ctx, gap); err != nil {
			log.Warn().Err(err).Msg("Failed to resolve gap in ledger")
		}
		log.Info().Str("provider", result.Provider).Int("rows", rows).Msg("Filled gap")
		return itemFilled

	case domain.OutcomeNotFound:
		o.markUnavailable(ctx, log, gap, result.Error())
		return itemUnavailable

	case domain.OutcomeRateLimited:
		log.Warn().Str("provider", result.Provider).Str("error", result.Error()).Msg("Rate limited while filling gap")
		o.recordAttempt(ctx, log, gap, domain.ErrorRateLimit, result.Error())
		return itemRateLimited

	default:
		log.Warn().Str("provider", result.Provider).Str("error", result.Error()).Msg("Failed to fill gap")
		o.recordAttempt(ctx, log, gap, domain.ErrorOther, result.Error())
		return itemError
	}
}

func (o *Orchestrator) markUnavailable(ctx context.Context, log zerolog.Logger, gap domain.Gap, reason string) {
	if err := o.ledger.MarkUnavailable(ctx, gap, reason); err != nil {
		log.Error().Err(err).Msg("Failed to mark gap unavailable")
	}
}

func (o *Orchestrator) recordAttempt(ctx context.Context, log zerolog.Logger, gap domain.Gap, errorType domain.ErrorType, message string) {
	if err := o.ledger.RecordAttempt(ctx, gap, errorType, message); err != nil {
		log.Error().Err(err).Msg("Failed to record gap attempt")
	}
}
