package domain

import (
	"fmt"
	"time"
)

// GapType is the data category a gap belongs to.
type GapType string

const (
	GapHistoricalPrices       GapType = "historical_prices"
	GapProfileData            GapType = "profile_data"
	GapCorporateActions       GapType = "corporate_actions"
	GapFinancialStatements    GapType = "financial_statements"
	GapAnalystRecommendations GapType = "analyst_recommendations"
)

// AllGapTypes lists gap types in the order health checks report them.
var AllGapTypes = []GapType{
	GapHistoricalPrices,
	GapProfileData,
	GapCorporateActions,
	GapFinancialStatements,
	GapAnalystRecommendations,
}

// ParseGapType validates a gap type name.
func ParseGapType(s string) (GapType, error) {
	for _, t := range AllGapTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown gap type: %q", s)
}

// GapStatus is the ledger state of a gap record.
type GapStatus string

const (
	StatusPending         GapStatus = "pending"
	StatusDataUnavailable GapStatus = "data_unavailable"
)

// ErrorType classifies the last failed attempt recorded for a gap.
type ErrorType string

const (
	ErrorRateLimit  ErrorType = "rate_limit"
	ErrorOther      ErrorType = "other_error"
	ErrorNoData     ErrorType = "no_data"
	ErrorStoreWrite ErrorType = "store_error"
)

// Gap identifies one unit of missing or stale data.
// StartDate and EndDate are YYYY-MM-DD and may be empty for undated categories.
type Gap struct {
	Symbol    string  `json:"symbol"`
	Type      GapType `json:"gap_type"`
	StartDate string  `json:"start_date,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
	Priority  int     `json:"priority"`
}

// GapKey is the (symbol, gap_type) pair used to de-duplicate work.
type GapKey struct {
	Symbol string
	Type   GapType
}

// Key returns the de-duplication key for the gap.
func (g Gap) Key() GapKey {
	return GapKey{Symbol: g.Symbol, Type: g.Type}
}

// String returns "SYMBOL/gap_type".
func (g Gap) String() string {
	return g.Symbol + "/" + string(g.Type)
}

// GapRecord is the durable ledger row for a gap.
type GapRecord struct {
	Gap
	ID           int64      `json:"id"`
	Status       GapStatus  `json:"status"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	NextRetry    *time.Time `json:"next_retry,omitempty"`
	ErrorCount   int        `json:"error_count"`
	ErrorType    ErrorType  `json:"error_type,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// GapsByType is the detector's view of currently missing data.
type GapsByType map[GapType][]Gap

// Total counts all gaps across types.
func (g GapsByType) Total() int {
	total := 0
	for _, gaps := range g {
		total += len(gaps)
	}
	return total
}

// Counts returns the number of gaps per type name.
func (g GapsByType) Counts() map[string]int {
	counts := make(map[string]int, len(g))
	for t, gaps := range g {
		counts[string(t)] = len(gaps)
	}
	return counts
}
