package catchup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/gaps"
	testingpkg "github.com/aristath/gapfill/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memoryStore struct {
	mu        sync.Mutex
	persisted []domain.Dataset
	err       error
}

func (s *memoryStore) Persist(_ context.Context, _ string, data domain.Dataset) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.persisted = append(s.persisted, data)
	return data.Rows(), nil
}

type harness struct {
	orch     *Orchestrator
	ledger   *gaps.Ledger
	detector *testingpkg.StubDetector
	provider *testingpkg.StubProvider
	store    *memoryStore
	clock    *fakeClock
}

func newHarness(t *testing.T, detected domain.GapsByType) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}

	ledger := gaps.NewLedger(testingpkg.NewMemoryDB(t, "market"), zerolog.Nop())
	ledger.SetClock(clock.Now)

	detector := testingpkg.NewStubDetector(detected)
	provider := testingpkg.NewStubProvider("fmp")
	store := &memoryStore{}

	orch := New(detector, ledger, provider, store, Config{ItemDelay: 0}, zerolog.Nop())
	orch.SetClock(clock.Now)

	return &harness{orch: orch, ledger: ledger, detector: detector, provider: provider, store: store, clock: clock}
}

func profileGaps(symbols ...string) domain.GapsByType {
	list := make([]domain.Gap, 0, len(symbols))
	for _, s := range symbols {
		list = append(list, domain.Gap{Symbol: s, Type: domain.GapProfileData, Priority: 2})
	}
	return domain.GapsByType{domain.GapProfileData: list}
}

func profileFound(symbol string) domain.FetchResult {
	return domain.Found("fmp", "profile", domain.Dataset{Profile: testingpkg.NewProfileFixture(symbol)})
}

func fetchedSymbols(p *testingpkg.StubProvider) []string {
	var out []string
	for _, g := range p.Calls() {
		out = append(out, g.Symbol)
	}
	return out
}

func TestRunPass_BreakerTripsAfterThreeRateLimits(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT", "NVDA", "TSLA"))
	h.provider.SetDefault(domain.RateLimited("fmp", "profile", errors.New("status 429: too many requests")))

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Queued)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.RateLimited)
	assert.True(t, result.Tripped)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, fetchedSymbols(h.provider))

	require.NotNil(t, result.PausedUntil)
	assert.True(t, result.PausedUntil.After(h.clock.Now()))
	assert.Equal(t, h.clock.Now().Add(BreakerPause), *h.orch.PausedUntil())

	rec, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, domain.ErrorRateLimit, rec.ErrorType)

	tsla, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "TSLA", Type: domain.GapProfileData})
	require.NoError(t, err)
	assert.Nil(t, tsla, "untouched item has no ledger row")
}

func TestRunPass_SkippedWhilePaused(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT", "NVDA", "TSLA"))
	h.provider.SetDefault(domain.RateLimited("fmp", "profile", errors.New("status 429")))

	_, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, h.provider.CallCount())

	h.clock.Advance(30 * time.Minute)
	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, result.Attempted)
	assert.Equal(t, 3, h.provider.CallCount())
	assert.Equal(t, 1, h.detector.CallCount(), "a skipped pass does not detect")

	h.clock.Advance(31 * time.Minute)
	h.provider.SetDefault(domain.TransportFailure("fmp", "profile", errors.New("timeout")))
	result, err = h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 4, result.Attempted)
	assert.Nil(t, h.orch.PausedUntil())
}

func TestRunPass_EmptyResultMarksUnavailable(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL"))
	h.provider.SetDefault(domain.Found("fmp", "profile", domain.Dataset{}))

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unavailable)
	assert.Zero(t, result.Filled)
	assert.Equal(t, 1, result.Completed())
	assert.Empty(t, h.store.persisted)

	rec, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusDataUnavailable, rec.Status)
	require.NotNil(t, rec.NextRetry)
	assert.True(t, rec.NextRetry.After(h.clock.Now()))
}

func TestRunPass_AbsenceResetsConsecutiveErrors(t *testing.T) {
	h := newHarness(t, profileGaps("A", "B", "C", "D", "E"))
	rateLimited := domain.RateLimited("fmp", "profile", errors.New("status 429"))
	h.provider.SetSymbolResult("A", rateLimited)
	h.provider.SetSymbolResult("B", rateLimited)
	h.provider.SetSymbolResult("C", domain.Found("fmp", "profile", domain.Dataset{}))
	h.provider.SetSymbolResult("D", rateLimited)
	h.provider.SetSymbolResult("E", rateLimited)

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Attempted)
	assert.Equal(t, 4, result.RateLimited)
	assert.Equal(t, 1, result.Unavailable)
	assert.False(t, result.Tripped)
}

func TestRunPass_EndToEndProfiles(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT", "NVDA", "GONE", "BUSY"))
	h.provider.SetSymbolResult("AAPL", profileFound("AAPL"))
	h.provider.SetSymbolResult("MSFT", profileFound("MSFT"))
	h.provider.SetSymbolResult("NVDA", profileFound("NVDA"))
	h.provider.SetSymbolResult("GONE", domain.NotFound("fmp", "profile", errors.New("404 not found")))
	h.provider.SetSymbolResult("BUSY", domain.RateLimited("fmp", "profile", errors.New("429 too many requests")))

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Attempted)
	assert.Equal(t, 3, result.Filled)
	assert.Equal(t, 1, result.Unavailable)
	assert.Equal(t, 4, result.Completed())
	assert.Equal(t, 1, result.RateLimited)
	assert.False(t, result.Tripped)
	assert.Nil(t, h.orch.PausedUntil())
	assert.Len(t, h.store.persisted, 3)

	gone, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "GONE", Type: domain.GapProfileData})
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.Equal(t, domain.StatusDataUnavailable, gone.Status)
	assert.Equal(t, domain.ErrorNoData, gone.ErrorType)
	assert.Contains(t, gone.ErrorMessage, "404")
}

func TestRunPass_WaitingGapsAreExcluded(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT"))
	ctx := context.Background()
	require.NoError(t, h.ledger.MarkUnavailable(ctx, domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData}, "no data"))

	result, err := h.orch.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, []string{"MSFT"}, fetchedSymbols(h.provider))
}

func TestRunPass_RetryReadyFirstThenByPriority(t *testing.T) {
	ctx := context.Background()
	detected := domain.GapsByType{
		domain.GapProfileData:      {{Symbol: "MSFT", Type: domain.GapProfileData, Priority: 2}},
		domain.GapHistoricalPrices: {{Symbol: "AAPL", Type: domain.GapHistoricalPrices, Priority: 3}},
		domain.GapCorporateActions: {{Symbol: "XOM", Type: domain.GapCorporateActions, Priority: 1}},
	}
	h := newHarness(t, detected)

	retry := domain.Gap{Symbol: "KO", Type: domain.GapAnalystRecommendations, Priority: 1}
	require.NoError(t, h.ledger.MarkUnavailable(ctx, retry, "no data"))
	h.clock.Advance(25 * time.Hour)

	h.provider.SetDefault(domain.Found("fmp", "stub", domain.Dataset{
		Recommendations: []domain.Recommendation{{Symbol: "KO", Period: "2024-03"}},
	}))

	result, err := h.orch.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Filled)
	assert.Equal(t, []string{"KO", "AAPL", "MSFT", "XOM"}, fetchedSymbols(h.provider))

	// The filled retry row is no longer retry-ready
	ready, err := h.ledger.GetRetryReady(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestRunPass_DeduplicatesRetryAndDetected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, profileGaps("AAPL", "AAPL"))
	require.NoError(t, h.ledger.MarkUnavailable(ctx, domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData}, "no data"))
	h.clock.Advance(25 * time.Hour)

	result, err := h.orch.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, h.provider.CallCount())
}

func TestRunPass_TransportErrorsDoNotTripBreaker(t *testing.T) {
	h := newHarness(t, profileGaps("A", "B", "C", "D", "E"))
	h.provider.SetDefault(domain.TransportFailure("fmp", "profile", errors.New("connection reset")))

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Attempted)
	assert.Equal(t, 5, result.Errors)
	assert.False(t, result.Tripped)

	rec, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "C", Type: domain.GapProfileData})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ErrorOther, rec.ErrorType)
	assert.Equal(t, domain.StatusPending, rec.Status)
}

func TestRunPass_StoreFailureIsRecorded(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL"))
	h.provider.SetDefault(profileFound("AAPL"))
	h.store.err = errors.New("disk full")

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Filled)

	rec, err := h.ledger.Get(context.Background(), domain.Gap{Symbol: "AAPL", Type: domain.GapProfileData})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ErrorStoreWrite, rec.ErrorType)
}

func TestRunPass_CancellationStopsBetweenItems(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT", "NVDA"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.SetDefault(profileFound("AAPL"))
	h.provider.OnFetch(func(domain.Gap) { cancel() })

	result, err := h.orch.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Filled, "the item in flight finishes")
	assert.True(t, result.Cancelled)
}

func TestRunPass_DelayFollowsSlowItems(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT", "NVDA"))
	h.orch.itemDelay = 100 * time.Millisecond
	h.provider.SetDefault(profileFound("AAPL"))

	var mu sync.Mutex
	var starts, ends []time.Time
	h.provider.OnFetch(func(domain.Gap) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(150 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
	})

	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Filled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(ends[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond, "pause before item %d", i+1)
	}
}

func TestRunPass_CancelDuringDelay(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL", "MSFT"))
	h.orch.itemDelay = time.Hour
	h.provider.SetDefault(profileFound("AAPL"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.OnFetch(func(domain.Gap) {
		time.AfterFunc(20*time.Millisecond, cancel)
	})

	done := make(chan PassResult, 1)
	go func() {
		result, _ := h.orch.RunPass(ctx)
		done <- result
	}()

	select {
	case result := <-done:
		assert.Equal(t, 1, result.Attempted)
		assert.True(t, result.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not stop during the item delay")
	}
}

func TestRunPass_EmptyQueue(t *testing.T) {
	h := newHarness(t, domain.GapsByType{})
	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Queued)
	assert.Zero(t, h.provider.CallCount())
}

func TestRunPass_DetectorErrorAbortsPass(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.SetError(errors.New("database is locked"))

	_, err := h.orch.RunPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detect gaps")
}

func TestRunPass_NotReentrant(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL"))

	entered := make(chan struct{})
	release := make(chan struct{})
	h.provider.OnFetch(func(domain.Gap) {
		close(entered)
		<-release
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.RunPass(context.Background())
	}()

	<-entered
	_, err := h.orch.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)
	close(release)
	<-done
}

func TestRestorePause(t *testing.T) {
	h := newHarness(t, profileGaps("AAPL"))
	h.provider.SetDefault(profileFound("AAPL"))

	h.orch.RestorePause(h.clock.Now().Add(10 * time.Minute))
	result, err := h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	// A pause already in the past is ignored
	h.orch.RestorePause(h.clock.Now().Add(-time.Minute))
	assert.Nil(t, h.orch.PausedUntil())
	result, err = h.orch.RunPass(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Filled)
}
