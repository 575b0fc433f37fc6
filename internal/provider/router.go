// Package provider routes gap fetches between the metered primary provider
// and the unmetered fallback.
package provider

import (
	"context"
	"fmt"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/failover"
	"github.com/rs/zerolog"
)

// Provider fetches the data for one gap. Implementations classify their own
// failures into the FetchResult outcome and never return a bare error.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult
}

// Policy decides whether the fallback must be used.
type Policy interface {
	Decide() failover.Reason
}

// Throttle receives provider distress signals.
type Throttle interface {
	RecordRateLimit(endpoint, symbol string)
}

// Router is the fallback-capable fetch routine used by catch-up and refresh.
type Router struct {
	primary  Provider
	fallback Provider
	policy   Policy
	throttle Throttle
	log      zerolog.Logger
}

// NewRouter creates a router. primary may be nil when no credential is
// configured, in which case every fetch goes to the fallback.
func NewRouter(primary, fallback Provider, policy Policy, throttle Throttle, log zerolog.Logger) *Router {
	return &Router{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		throttle: throttle,
		log:      log.With().Str("component", "provider_router").Logger(),
	}
}

// Name implements Provider.
func (r *Router) Name() string { return "router" }

// Fetch asks the policy, then calls the primary or the fallback.
// A rate-limited primary is recorded with the throttle and the fallback is
// tried in the same call; a primary transport failure also falls through.
// Success and NotFound from the primary are final.
func (r *Router) Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult {
	if r.primary == nil {
		return r.fetchFallback(ctx, gap, failover.ReasonNoCredential)
	}

	reason := failover.ReasonNone
	if r.policy != nil {
		reason = r.policy.Decide()
	}
	if reason != failover.ReasonNone {
		return r.fetchFallback(ctx, gap, reason)
	}

	result := r.primary.Fetch(ctx, gap)
	switch result.Outcome {
	case domain.OutcomeSuccess, domain.OutcomeNotFound:
		return result
	case domain.OutcomeRateLimited:
		if r.throttle != nil {
			r.throttle.RecordRateLimit(result.Endpoint, gap.Symbol)
		}
		r.log.Warn().
			Str("symbol", gap.Symbol).
			Str("gap_type", string(gap.Type)).
			Str("endpoint", result.Endpoint).
			Msg("Primary provider rate limited, trying fallback")
	default:
		r.log.Warn().
			Err(result.Err).
			Str("symbol", gap.Symbol).
			Str("gap_type", string(gap.Type)).
			Msg("Primary provider failed, trying fallback")
	}

	if r.fallback == nil {
		return result
	}
	return r.fallback.Fetch(ctx, gap)
}

func (r *Router) fetchFallback(ctx context.Context, gap domain.Gap, reason failover.Reason) domain.FetchResult {
	if r.fallback == nil {
		return domain.TransportFailure("", "", fmt.Errorf("no provider available (%s)", reason))
	}
	r.log.Debug().
		Str("symbol", gap.Symbol).
		Str("gap_type", string(gap.Type)).
		Str("reason", string(reason)).
		Msg("Using fallback provider")
	return r.fallback.Fetch(ctx, gap)
}
