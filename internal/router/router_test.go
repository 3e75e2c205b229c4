package router

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

func testMarkets() map[string]domain.Market {
	return map[string]domain.Market{
		"BTC/USD": {Base: "BTC", Quote: "USD", TakerFeeRate: 0.001},
		"ETH/BTC": {Base: "ETH", Quote: "BTC", TakerFeeRate: 0.001},
		"ETH/USD": {Base: "ETH", Quote: "USD", TakerFeeRate: 0.001},
		"SOL/USD": {Base: "SOL", Quote: "USD", TakerFeeRate: 0.001},
	}
}

func TestBuildGraphAddsBothDirections(t *testing.T) {
	g := BuildGraph(testMarkets())
	if !g.Has("BTC") || !g.Has("USD") || !g.Has("ETH") {
		t.Fatalf("expected all traded currencies present as graph nodes")
	}
	if _, ok := g.EdgeBetween("USD", "BTC"); !ok {
		t.Fatalf("expected USD->BTC (buy) edge")
	}
	if _, ok := g.EdgeBetween("BTC", "USD"); !ok {
		t.Fatalf("expected BTC->USD (sell) edge")
	}
}

func TestAllShortestPathsFindsDirectAndMultiHop(t *testing.T) {
	g := BuildGraph(testMarkets())

	direct := g.AllShortestPaths("BTC", "USD", 4)
	if len(direct) == 0 {
		t.Fatalf("expected a direct BTC->USD path")
	}
	for _, p := range direct {
		if len(p) != 2 {
			t.Fatalf("expected shortest BTC->USD path to be 1 hop, got %v", p)
		}
	}

	viaEth := g.AllShortestPaths("ETH", "SOL", 4)
	if len(viaEth) == 0 {
		t.Fatalf("expected an ETH->SOL path through USD or BTC")
	}
}

func TestAllShortestPathsRespectsMaxHops(t *testing.T) {
	g := BuildGraph(testMarkets())
	none := g.AllShortestPaths("ETH", "SOL", 0)
	if len(none) != 0 {
		t.Fatalf("expected no path when maxHops is 0 and no direct edge exists, got %v", none)
	}
}

func TestIntermediaryPathAvoidsDuplicatingNode(t *testing.T) {
	g := BuildGraph(testMarkets())
	path, ok := g.IntermediaryPath("ETH", "BTC", "USD", 4)
	if !ok {
		t.Fatalf("expected an ETH->BTC->USD intermediary path")
	}
	seen := map[domain.Currency]int{}
	for _, c := range path {
		seen[c]++
	}
	for c, n := range seen {
		if n > 1 {
			t.Fatalf("expected no repeated currency in path, %s appeared %d times: %v", c, n, path)
		}
	}
}

// fakeVenue provides deterministic tickers/books/fills for router tests.
type fakeVenue struct {
	mu       sync.Mutex
	markets  map[string]domain.Market
	px       map[string]float64
	orderNum int
	failSym  map[string]bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		markets: testMarkets(),
		px: map[string]float64{
			"BTC/USD": 50000,
			"ETH/BTC": 0.06,
			"ETH/USD": 3000,
			"SOL/USD": 100,
		},
		failSym: map[string]bool{},
	}
}

func (f *fakeVenue) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	return f.markets, nil
}

func (f *fakeVenue) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	px := f.px[symbol]
	return domain.Ticker{Symbol: symbol, Bid: px * 0.999, Ask: px * 1.001}, nil
}

func (f *fakeVenue) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	px := f.px[symbol]
	return domain.OrderBook{
		Symbol: symbol,
		Bids:   []domain.BookEntry{{Price: px * 0.999, Size: 1000}},
		Asks:   []domain.BookEntry{{Price: px * 1.001, Size: 1000}},
	}, nil
}

func (f *fakeVenue) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return nil, nil
}

func (f *fakeVenue) place(symbol, side string, amount float64) (domain.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if f.failSym[symbol] {
		return domain.OrderRecord{}, &domain.VenueError{Kind: domain.VenueErrOther, Op: "place", Err: errTest}
	}
	f.orderNum++
	return domain.OrderRecord{
		ID: "ord", Symbol: symbol, Side: side, RequestedAmount: amount,
		State: domain.OrderPlaced, FilledAmount: amount, AvgFillPrice: f.px[symbol],
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (f *fakeVenue) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	return f.place(symbol, side, amount)
}
func (f *fakeVenue) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	return f.place(symbol, side, amount)
}
func (f *fakeVenue) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	return domain.OrderRecord{ID: orderID, Symbol: symbol, State: domain.OrderFilled, FilledAmount: 1, AvgFillPrice: f.px[symbol], UpdatedAt: time.Now()}, nil
}
func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return false, nil
}
func (f *fakeVenue) ExecutionMetrics() ports.ExecutionMetrics { return ports.ExecutionMetrics{} }
func (f *fakeVenue) RateLimit() float64                       { return 1000 }

var errTest = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter(venue *fakeVenue, cfg Config) *Router {
	coord := coordinator.New(venue, coordinator.Config{
		RapidCheckInterval: time.Millisecond, RapidCheckThreshold: 10 * time.Millisecond,
		MinRequestInterval: time.Millisecond, CacheTTL: time.Millisecond,
		VenueRateLimitPerSec: 1000, RateLimitBuffer: 1,
	}, testLogger())
	return New(venue, coord, cfg, testLogger())
}

func TestFindLiquidationPathsReturnsScoredCandidates(t *testing.T) {
	venue := newFakeVenue()
	r := newTestRouter(venue, Config{})

	paths, err := r.FindLiquidationPaths(context.Background(), "ETH", 1.0, []domain.Currency{"USD"})
	if err != nil {
		t.Fatalf("FindLiquidationPaths: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("expected at least one liquidation path from ETH to USD")
	}
}

func TestLiquidateAlreadyAtBaseCurrencyIsNoop(t *testing.T) {
	venue := newFakeVenue()
	r := newTestRouter(venue, Config{})

	amount, ccy, ok := r.Liquidate(context.Background(), "USD", 100)
	if !ok || amount != 100 || ccy != "USD" {
		t.Fatalf("expected no-op liquidate for already-base currency, got %v %v %v", amount, ccy, ok)
	}
}

func TestLiquidateConvertsToBaseCurrency(t *testing.T) {
	venue := newFakeVenue()
	r := newTestRouter(venue, Config{})

	amount, ccy, ok := r.Liquidate(context.Background(), "ETH", 1.0)
	if !ok {
		t.Fatalf("expected liquidation to succeed")
	}
	if ccy != "USD" && ccy != "USDT" && ccy != "USDC" {
		t.Fatalf("expected liquidation to land on a base currency, got %s", ccy)
	}
	if amount <= 0 {
		t.Fatalf("expected a positive liquidated amount, got %v", amount)
	}
}

func TestLiquidateFailsClosedWithNoPath(t *testing.T) {
	venue := newFakeVenue()
	delete(venue.markets, "ETH/USD")
	delete(venue.markets, "ETH/BTC")
	r := newTestRouter(venue, Config{RetryAttempts: 1, RetryDelay: time.Millisecond})

	_, _, ok := r.Liquidate(context.Background(), "ETH", 1.0)
	if ok {
		t.Fatalf("expected liquidation to fail when ETH has no route to any base currency")
	}
}

func TestBlacklistExpiresAfterTTL(t *testing.T) {
	b := NewBlacklist()
	now := time.Now()
	b.Add("BTC/USD", 10*time.Millisecond, now)
	if !b.Active("BTC/USD", now) {
		t.Fatalf("expected symbol to be blacklisted immediately after Add")
	}
	if b.Active("BTC/USD", now.Add(time.Second)) {
		t.Fatalf("expected blacklist entry to expire after its TTL")
	}
}

func TestAnalyzeConditionsClassifiesWideSpreadAsVolatile(t *testing.T) {
	venue := newFakeVenue()
	venue.px["BTC/USD"] = 50000
	graph := BuildGraph(venue.markets)

	cfg := defaultConfig(Config{VolatilityThresholdBps: 1}) // any nonzero spread trips it
	conds := AnalyzeConditions(context.Background(), venue, graph, []domain.Currency{"BTC"}, cfg, testLogger())
	if conds["BTC"] != ConditionVolatile && conds["BTC"] != ConditionExtreme {
		t.Fatalf("expected a wide relative spread to classify as volatile/extreme, got %s", conds["BTC"])
	}
}
