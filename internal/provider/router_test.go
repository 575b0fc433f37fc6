package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/failover"
	testingpkg "github.com/aristath/gapfill/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPolicy failover.Reason

func (p fixedPolicy) Decide() failover.Reason { return failover.Reason(p) }

type recordingThrottle struct {
	keys []string
}

func (r *recordingThrottle) RecordRateLimit(endpoint, symbol string) {
	r.keys = append(r.keys, endpoint+":"+symbol)
}

var profileGap = domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData}

func newRouter(policy failover.Reason) (*Router, *testingpkg.StubProvider, *testingpkg.StubProvider, *recordingThrottle) {
	primary := testingpkg.NewStubProvider("fmp")
	fallback := testingpkg.NewStubProvider("yahoo")
	throttle := &recordingThrottle{}
	return NewRouter(primary, fallback, fixedPolicy(policy), throttle, zerolog.Nop()), primary, fallback, throttle
}

func TestRouter_UsesPrimaryWhenPolicyAllows(t *testing.T) {
	router, primary, fallback, _ := newRouter(failover.ReasonNone)
	primary.SetDefault(domain.Found("fmp", "profile", domain.Dataset{Profile: testingpkg.NewProfileFixture("AAPL")}))

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, "fmp", result.Provider)
	assert.Equal(t, 1, primary.CallCount())
	assert.Zero(t, fallback.CallCount())
}

func TestRouter_PolicyForcesFallback(t *testing.T) {
	for _, reason := range []failover.Reason{
		failover.ReasonRateLimited,
		failover.ReasonBudgetExhausted,
		failover.ReasonCriticalUsage,
	} {
		t.Run(string(reason), func(t *testing.T) {
			router, primary, fallback, _ := newRouter(reason)
			result := router.Fetch(context.Background(), profileGap)
			assert.Equal(t, "yahoo", result.Provider)
			assert.Zero(t, primary.CallCount())
			assert.Equal(t, 1, fallback.CallCount())
		})
	}
}

func TestRouter_PrimaryRateLimitRecordsAndFallsThrough(t *testing.T) {
	router, primary, fallback, throttle := newRouter(failover.ReasonNone)
	primary.SetDefault(domain.RateLimited("fmp", "profile", errors.New("status 429")))

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, "yahoo", result.Provider)
	assert.Equal(t, domain.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, fallback.CallCount())
	assert.Equal(t, []string{"profile:AAPL"}, throttle.keys)
}

func TestRouter_PrimaryNotFoundIsFinal(t *testing.T) {
	router, primary, fallback, throttle := newRouter(failover.ReasonNone)
	primary.SetDefault(domain.NotFound("fmp", "profile", errors.New("status 404")))

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, domain.OutcomeNotFound, result.Outcome)
	assert.Zero(t, fallback.CallCount())
	assert.Empty(t, throttle.keys)
}

func TestRouter_PrimaryTransportErrorFallsThrough(t *testing.T) {
	router, primary, fallback, throttle := newRouter(failover.ReasonNone)
	primary.SetDefault(domain.TransportFailure("fmp", "profile", errors.New("connection refused")))
	fallback.SetDefault(domain.NotFound("yahoo", "quoteSummary", errors.New("Not Found")))

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, domain.OutcomeNotFound, result.Outcome)
	assert.Equal(t, "yahoo", result.Provider)
	assert.Empty(t, throttle.keys)
}

func TestRouter_NoPrimaryUsesFallback(t *testing.T) {
	fallback := testingpkg.NewStubProvider("yahoo")
	router := NewRouter(nil, fallback, fixedPolicy(failover.ReasonNone), nil, zerolog.Nop())

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, "yahoo", result.Provider)
	assert.Equal(t, 1, fallback.CallCount())
}

func TestRouter_NoFallbackReturnsPrimaryFailure(t *testing.T) {
	primary := testingpkg.NewStubProvider("fmp")
	primary.SetDefault(domain.RateLimited("fmp", "profile", errors.New("status 429")))
	throttle := &recordingThrottle{}
	router := NewRouter(primary, nil, nil, throttle, zerolog.Nop())

	result := router.Fetch(context.Background(), profileGap)
	assert.Equal(t, domain.OutcomeRateLimited, result.Outcome)
	assert.Len(t, throttle.keys, 1)
}

func TestRouter_NoProviderAtAll(t *testing.T) {
	router := NewRouter(nil, nil, nil, nil, zerolog.Nop())
	result := router.Fetch(context.Background(), profileGap)
	require.Equal(t, domain.OutcomeTransportError, result.Outcome)
	assert.Contains(t, result.Error(), "no provider available")
	assert.Equal(t, "router", router.Name())
}
