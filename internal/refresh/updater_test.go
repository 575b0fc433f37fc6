package refresh

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

func newTestUpdater(t *testing.T, symbols ...string) (*Updater, *testingpkg.StubProvider, *marketdata.Store) {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanup)

	store := marketdata.NewStore(db.Conn(), zerolog.Nop())
	provider := testingpkg.NewStubProvider("yahoo")
	updater := NewUpdater(provider, store, symbols, 0, zerolog.Nop())
	updater.SetClock(func() time.Time { return time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC) })
	return updater, provider, store
}

func pricesFound(symbol string, dates ...string) domain.FetchResult {
	return domain.Found("yahoo", "chart", domain.Dataset{Prices: testingpkg.NewPriceFixtures(symbol, dates...)})
}

func TestUpdateAll_RequestsTrailingWindow(t *testing.T) {
	updater, provider, store := newTestUpdater(t, "AAPL", "MSFT")
	provider.SetSymbolResult("AAPL", pricesFound("AAPL", "2024-03-07", "2024-03-08"))
	provider.SetSymbolResult("MSFT", pricesFound("MSFT", "2024-03-08"))

	result, err := updater.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 3, result.Rows)
	assert.Empty(t, result.Failed)

	calls := provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.GapHistoricalPrices, calls[0].Type)
	assert.Equal(t, "2024-03-03", calls[0].StartDate)
	assert.Equal(t, "2024-03-10", calls[0].EndDate)

	latest, err := store.LatestPriceDate(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", latest)
}

func TestUpdateAll_PartialFailureIsNotAnError(t *testing.T) {
	updater, provider, _ := newTestUpdater(t, "AAPL", "MSFT", "KO")
	provider.SetSymbolResult("AAPL", pricesFound("AAPL", "2024-03-08"))
	provider.SetSymbolResult("MSFT", domain.TransportFailure("yahoo", "chart", errors.New("timeout")))

	result, err := updater.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Empty, "KO gets the stub's empty default")
	assert.Equal(t, []string{"MSFT"}, result.Failed)
}

func TestUpdateAll_AllFailedIsAnError(t *testing.T) {
	updater, provider, _ := newTestUpdater(t, "AAPL", "MSFT")
	provider.SetDefault(domain.RateLimited("yahoo", "chart", errors.New("status 429")))

	result, err := updater.UpdateAll(context.Background())
	require.Error(t, err)
	assert.Len(t, result.Failed, 2)
}

func TestUpdateAll_NoSymbols(t *testing.T) {
	updater, provider, _ := newTestUpdater(t)
	_, err := updater.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, provider.CallCount())
}

func TestUpdateAll_Cancelled(t *testing.T) {
	updater, provider, _ := newTestUpdater(t, "AAPL")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := updater.UpdateAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, provider.CallCount())
}
