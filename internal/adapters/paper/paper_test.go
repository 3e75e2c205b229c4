package paper

import (
	"context"
	"testing"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/simfill"
	"github.com/stretchr/testify/require"
)

type fakeMarketData struct {
	markets map[string]domain.Market
	ticker  domain.Ticker
	book    domain.OrderBook
	balance map[domain.Currency]float64
}

func (f *fakeMarketData) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	return f.markets, nil
}

func (f *fakeMarketData) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeMarketData) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	return f.book, nil
}

func (f *fakeMarketData) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return f.balance, nil
}

func (f *fakeMarketData) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	return domain.OrderRecord{}, nil
}

func (f *fakeMarketData) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	return domain.OrderRecord{}, nil
}

func (f *fakeMarketData) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	return domain.OrderRecord{}, nil
}

func (f *fakeMarketData) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return false, nil
}

func (f *fakeMarketData) ExecutionMetrics() ports.ExecutionMetrics { return ports.ExecutionMetrics{} }

func (f *fakeMarketData) RateLimit() float64 { return 10 }

func newFakeMarketData() *fakeMarketData {
	return &fakeMarketData{
		markets: map[string]domain.Market{
			"BTC/USD": {Base: "BTC", Quote: "USD", TakerFeeRate: 0.001},
		},
		ticker: domain.Ticker{Symbol: "BTC/USD", Bid: 49995, Ask: 50005, Last: 50000},
	}
}

func TestLoadMarketsPassesThroughToMarketData(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)

	markets, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)
	require.Contains(t, markets, "BTC/USD")
}

func TestPlaceMarketOrderNeverTouchesRealMarketData(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	rec, err := a.PlaceMarket(context.Background(), "BTC/USD", "buy", 0.01)
	require.NoError(t, err)
	require.True(t, rec.State == domain.OrderFilled || rec.State == domain.OrderPartiallyFilled)
	require.Greater(t, rec.FilledAmount, 0.0)
}

func TestPlaceLimitOrderRestsWhenNotMarketable(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	rec, err := a.PlaceLimit(context.Background(), "BTC/USD", "buy", 0.01, 40000)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, rec.State)
}

func TestFetchOrderReturnsVenueErrorWhenUnknown(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)

	_, err := a.FetchOrder(context.Background(), "does-not-exist", "BTC/USD")
	require.Error(t, err)
	var venueErr *domain.VenueError
	require.ErrorAs(t, err, &venueErr)
}

func TestCancelOrderDelegatesToSimulator(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	rec, err := a.PlaceLimit(context.Background(), "BTC/USD", "buy", 0.01, 1.0)
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, rec.State)

	ok, err := a.CancelOrder(context.Background(), rec.ID, "BTC/USD")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFetchBalanceReturnsSimulatedBalancesNotRealAccount(t *testing.T) {
	md := newFakeMarketData()
	md.balance = map[domain.Currency]float64{domain.Normalize("USD"): 999999}
	initial := map[domain.Currency]float64{domain.Normalize("USD"): 1000}
	a := New(md, simfill.Config{RandomSeed: 1}, initial, nil)
	_, err := a.LoadMarkets(context.Background())
	require.NoError(t, err)

	bal, err := a.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1000.0, bal[domain.Normalize("USD")])
}

func TestRateLimitDelegatesToMarketData(t *testing.T) {
	md := newFakeMarketData()
	a := New(md, simfill.Config{RandomSeed: 1}, nil, nil)
	require.Equal(t, 10.0, a.RateLimit())
}
