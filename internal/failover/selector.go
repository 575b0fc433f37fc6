// Package failover decides whether a request should go to the metered
// primary provider or the unmetered fallback.
package failover

import "github.com/aristath/gapfill/internal/budget"

// Reason explains why the fallback was chosen. Empty means use the primary.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNoCredential    Reason = "no_credential"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonCriticalUsage   Reason = "critical_usage"
)

// BudgetState is the read side of the budget governor.
type BudgetState interface {
	CanMakeRequest(n int) bool
	UsagePercent() float64
}

// ThrottleState is the read side of the rate-limit tracker.
type ThrottleState interface {
	IsRateLimited() bool
}

// Selector is read-only policy over budget and throttle state.
type Selector struct {
	hasCredential bool
	budget        BudgetState
	throttle      ThrottleState
}

// NewSelector creates a selector. hasCredential is false when no API key is configured.
func NewSelector(hasCredential bool, budget BudgetState, throttle ThrottleState) *Selector {
	return &Selector{hasCredential: hasCredential, budget: budget, throttle: throttle}
}

// Decide returns the first reason the fallback must be used, or ReasonNone.
// Critical usage sheds load before the budget is fully spent.
func (s *Selector) Decide() Reason {
	switch {
	case !s.hasCredential:
		return ReasonNoCredential
	case s.throttle != nil && s.throttle.IsRateLimited():
		return ReasonRateLimited
	case s.budget != nil && !s.budget.CanMakeRequest(1):
		return ReasonBudgetExhausted
	case s.budget != nil && s.budget.UsagePercent() >= budget.CriticalPercent:
		return ReasonCriticalUsage
	default:
		return ReasonNone
	}
}

// ShouldUseFallback reports whether Decide picked the fallback.
func (s *Selector) ShouldUseFallback() bool {
	return s.Decide() != ReasonNone
}
