// Package gapdetect finds missing or stale market data by comparing the
// configured symbol universe against what the store already holds.
package gapdetect

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// StalePriceAge is how old the newest bar may get before prices count as a gap.
	StalePriceAge = 3 * 24 * time.Hour
	// StaleRecommendationAge is how old the newest recommendation month may get.
	StaleRecommendationAge = 45 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

// Gap priorities. The work queue drains higher values first.
const (
	PriorityPrices  = 3
	PriorityProfile = 2
	PriorityOther   = 1
)

// CoverageReader is the subset of the market data store the detector reads.
type CoverageReader interface {
	LatestPriceDate(ctx context.Context, symbol string) (string, error)
	HasProfile(ctx context.Context, symbol string) (bool, error)
	CountRows(ctx context.Context, table, symbol string) (int, error)
	LatestRecommendation(ctx context.Context, symbol string) (string, error)
}

// CoverageDetector reports gaps for a fixed symbol list.
type CoverageDetector struct {
	store   CoverageReader
	symbols []string
	now     func() time.Time
	log     zerolog.Logger
}

// NewCoverageDetector creates a detector over symbols.
func NewCoverageDetector(store CoverageReader, symbols []string, log zerolog.Logger) *CoverageDetector {
	return &CoverageDetector{
		store:   store,
		symbols: symbols,
		now:     time.Now,
		log:     log.With().Str("component", "gap_detector").Logger(),
	}
}

// SetClock overrides the time source
func (d *CoverageDetector) SetClock(now func() time.Time) {
	d.now = now
}

// Symbols returns the symbols the detector covers
func (d *CoverageDetector) Symbols() []string {
	return d.symbols
}

// DetectAllGaps checks every symbol and groups the gaps by type. Every gap
// type is present in the result, possibly with an empty list.
func (d *CoverageDetector) DetectAllGaps(ctx context.Context) (domain.GapsByType, error) {
	result := make(domain.GapsByType, len(domain.AllGapTypes))
	for _, t := range domain.AllGapTypes {
		result[t] = []domain.Gap{}
	}

	today := d.now().UTC().Truncate(24 * time.Hour)
	for _, symbol := range d.symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gaps, err := d.detectSymbol(ctx, symbol, today)
		if err != nil {
			return nil, fmt.Errorf("failed to detect gaps for %s: %w", symbol, err)
		}
		for _, g := range gaps {
			result[g.Type] = append(result[g.Type], g)
		}
	}

	d.log.Debug().
		Int("symbols", len(d.symbols)).
		Int("gaps", result.Total()).
		Msg("Gap detection complete")

	return result, nil
}

func (d *CoverageDetector) detectSymbol(ctx context.Context, symbol string, today time.Time) ([]domain.Gap, error) {
	var gaps []domain.Gap

	latest, err := d.store.LatestPriceDate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if gap, ok := priceGap(symbol, latest, today); ok {
		gaps = append(gaps, gap)
	}

	hasProfile, err := d.store.HasProfile(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !hasProfile {
		gaps = append(gaps, domain.Gap{Symbol: symbol, Type: domain.GapProfileData, Priority: PriorityProfile})
	}

	for _, check := range []struct {
		table string
		gap   domain.GapType
	}{
		{"corporate_actions", domain.GapCorporateActions},
		{"financial_statements", domain.GapFinancialStatements},
	} {
		n, err := d.store.CountRows(ctx, check.table, symbol)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			gaps = append(gaps, domain.Gap{Symbol: symbol, Type: check.gap, Priority: PriorityOther})
		}
	}

	period, err := d.store.LatestRecommendation(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if recommendationStale(period, today) {
		gaps = append(gaps, domain.Gap{Symbol: symbol, Type: domain.GapAnalystRecommendations, Priority: PriorityOther})
	}

	return gaps, nil
}

// priceGap returns the range of bars missing after latest. With no bars at
// all the range covers the last year.
func priceGap(symbol, latest string, today time.Time) (domain.Gap, bool) {
	start := today.AddDate(-1, 0, 0)
	if latest != "" {
		last, err := time.Parse(dateLayout, latest)
		if err == nil {
			if today.Sub(last) <= StalePriceAge {
				return domain.Gap{}, false
			}
			start = last.AddDate(0, 0, 1)
		}
	}
	return domain.Gap{
		Symbol:    symbol,
		Type:      domain.GapHistoricalPrices,
		StartDate: start.Format(dateLayout),
		EndDate:   today.Format(dateLayout),
		Priority:  PriorityPrices,
	}, true
}

// recommendationStale reports whether period (YYYY-MM) is missing or older
// than StaleRecommendationAge.
func recommendationStale(period string, today time.Time) bool {
	if period == "" {
		return true
	}
	month, err := time.Parse("2006-01", period)
	if err != nil {
		return true
	}
	return today.Sub(month) > StaleRecommendationAge
}
