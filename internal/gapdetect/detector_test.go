package gapdetect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/marketdata"
	testingpkg "github.com/aristath/gapfill/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, symbols ...string) (*CoverageDetector, *marketdata.Store) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	store := marketdata.NewStore(db.Conn(), zerolog.Nop())
	detector := NewCoverageDetector(store, symbols, zerolog.Nop())
	detector.SetClock(func() time.Time { return testNow })
	return detector, store
}

func TestDetectAllGaps_EmptyStoreReportsEverything(t *testing.T) {
	detector, _ := newTestDetector(t, "AAPL", "MSFT")

	gaps, err := detector.DetectAllGaps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, gaps.Total())

	for _, gt := range domain.AllGapTypes {
		assert.Len(t, gaps[gt], 2, string(gt))
	}

	prices := gaps[domain.GapHistoricalPrices][0]
	assert.Equal(t, "AAPL", prices.Symbol)
	assert.Equal(t, "2023-03-10", prices.StartDate)
	assert.Equal(t, "2024-03-10", prices.EndDate)
	assert.Equal(t, PriorityPrices, prices.Priority)
	assert.Equal(t, PriorityProfile, gaps[domain.GapProfileData][0].Priority)
	assert.Equal(t, PriorityOther, gaps[domain.GapCorporateActions][0].Priority)
}

func TestDetectAllGaps_FullCoverageReportsNothing(t *testing.T) {
	detector, store := newTestDetector(t, "AAPL")
	ctx := context.Background()

	_, err := store.Persist(ctx, "fmp", domain.Dataset{
		Prices:     testingpkg.NewPriceFixtures("AAPL", "2024-03-07"),
		Profile:    testingpkg.NewProfileFixture("AAPL"),
		Actions:    testingpkg.NewActionFixtures("AAPL"),
		Statements: testingpkg.NewStatementFixtures("AAPL"),
		Recommendations: []domain.Recommendation{
			{Symbol: "AAPL", Period: "2024-02", Buy: 10},
		},
	})
	require.NoError(t, err)

	gaps, err := detector.DetectAllGaps(ctx)
	require.NoError(t, err)
	assert.Zero(t, gaps.Total())
	// Every type is present even when empty
	assert.Len(t, gaps, len(domain.AllGapTypes))
}

func TestDetectAllGaps_StaleData(t *testing.T) {
	detector, store := newTestDetector(t, "KO")
	ctx := context.Background()

	require.NoError(t, store.InsertPrices(ctx, "fmp", testingpkg.NewPriceFixtures("KO", "2024-03-01")))
	require.NoError(t, store.InsertRecommendations(ctx, "fmp", []domain.Recommendation{
		{Symbol: "KO", Period: "2024-01"},
	}))

	gaps, err := detector.DetectAllGaps(ctx)
	require.NoError(t, err)

	require.Len(t, gaps[domain.GapHistoricalPrices], 1)
	prices := gaps[domain.GapHistoricalPrices][0]
	assert.Equal(t, "2024-03-02", prices.StartDate)
	assert.Equal(t, "2024-03-10", prices.EndDate)

	assert.Len(t, gaps[domain.GapAnalystRecommendations], 1)
}

func TestPriceGap(t *testing.T) {
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	_, ok := priceGap("AAPL", "2024-03-07", today)
	assert.False(t, ok, "three days old is still fresh")

	gap, ok := priceGap("AAPL", "2024-03-06", today)
	require.True(t, ok)
	assert.Equal(t, "2024-03-07", gap.StartDate)

	gap, ok = priceGap("AAPL", "", today)
	require.True(t, ok)
	assert.Equal(t, "2023-03-10", gap.StartDate)
}

func TestRecommendationStale(t *testing.T) {
	today := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, recommendationStale("", today))
	assert.True(t, recommendationStale("garbage", today))
	assert.True(t, recommendationStale("2024-01", today))
	assert.False(t, recommendationStale("2024-02", today))
	assert.False(t, recommendationStale("2024-03", today))
}

type failingReader struct{ CoverageReader }

func (failingReader) LatestPriceDate(context.Context, string) (string, error) {
	return "", errors.New("database is locked")
}

func TestDetectAllGaps_PropagatesStoreErrors(t *testing.T) {
	detector := NewCoverageDetector(failingReader{}, []string{"AAPL"}, zerolog.Nop())
	_, err := detector.DetectAllGaps(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AAPL")
}

func TestDetectAllGaps_HonoursCancellation(t *testing.T) {
	detector, _ := newTestDetector(t, "AAPL")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := detector.DetectAllGaps(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
