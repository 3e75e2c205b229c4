package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/simfill"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.csv")
	data := `timestamp,symbol,bid,ask,last,volume
1700000000.0,BTC/USDT,42000.00,42010.00,42005.00,125.50
1700000001.0,BTC/USDT,42005.00,42015.00,42010.00,126.20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	feed, err := LoadFeed(path)
	require.NoError(t, err)

	initial := map[domain.Currency]float64{domain.Normalize("USDT"): 50000.0}
	return New(feed, simfill.Config{RandomSeed: 1}, initial, nil)
}

func TestBacktestPlaceMarketOrderFillsFromFeed(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	rec, err := a.PlaceMarket(context.Background(), "BTC/USDT", "buy", 0.01)
	require.NoError(t, err)
	require.True(t, rec.State == domain.OrderFilled || rec.State == domain.OrderPartiallyFilled)
}

func TestBacktestFetchTickerFailsBeforeFirstTick(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	// AdvanceTo only moves forward, so put the adapter on a clock that
	// starts one second before the feed's first tick.
	a.clock = NewSimClock(time.Unix(1699999999, 0))
	_, err = a.FetchTicker(context.Background(), "BTC/USDT")
	require.Error(t, err)
	var venueErr *domain.VenueError
	require.ErrorAs(t, err, &venueErr)
}

func TestBacktestAdvanceToMovesSimulatedTimeForward(t *testing.T) {
	a := newTestAdapter(t)
	start := a.CurrentSimTime()

	a.AdvanceTo(start.Add(100 * time.Second))
	require.True(t, a.CurrentSimTime().After(start))
}

func TestBacktestFetchOrderBookSynthesizesFromTicker(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	book, err := a.FetchOrderBook(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, 42000.0, book.BestBid())
	require.Equal(t, 42010.0, book.BestAsk())
}

func TestBacktestFetchBalanceReflectsInitialSeed(t *testing.T) {
	a := newTestAdapter(t)
	bal, err := a.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50000.0, bal[domain.Normalize("USDT")])
}

func TestBacktestRateLimitIsUnbounded(t *testing.T) {
	a := newTestAdapter(t)
	require.Equal(t, 0.0, a.RateLimit())
}
