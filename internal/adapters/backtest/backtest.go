package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/simfill"
)

// Adapter is the Backtest ports.VenueAdapter: ticker/order-book reads come
// from a historical Feed indexed by the adapter's own SimClock, and order
// execution is delegated to the same internal/simfill.Simulator the Paper
// adapter uses — the only difference between the two, per §9, is which
// Clock drives it.
type Adapter struct {
	feed   *Feed
	clock  *SimClock
	sim    *simfill.Simulator
	logger *slog.Logger

	markets map[string]domain.Market
}

// New builds a Backtest adapter over feed, starting the simulated clock at
// the feed's first timestamp (matching BacktestExchange's
// get_current_simulation_time seeding) and seeding the account with
// initialBalances.
func New(feed *Feed, cfg simfill.Config, initialBalances map[domain.Currency]float64, logger *slog.Logger) *Adapter {
	clock := NewSimClock(time.Unix(int64(feed.FirstTimestamp()), 0))
	return &Adapter{
		feed:    feed,
		clock:   clock,
		sim:     simfill.New(cfg, clock, initialBalances),
		logger:  logger,
		markets: feed.Markets(),
	}
}

// AdvanceTo jumps the adapter's simulated clock forward, matching
// BacktestRunner's per-cycle `exchange.advance_time_to(target_time)`.
func (a *Adapter) AdvanceTo(t time.Time) { a.clock.AdvanceTo(t) }

// CurrentSimTime returns the adapter's current simulated time.
func (a *Adapter) CurrentSimTime() time.Time { return a.clock.Now() }

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	a.markets = a.feed.Markets()
	return a.markets, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	t, ok := a.feed.TickerAt(symbol, float64(a.clock.Now().Unix()))
	if !ok {
		return domain.Ticker{}, &domain.VenueError{Kind: domain.VenueErrSymbolUnknown, Op: "fetch-ticker", Err: fmt.Errorf("no feed data for %s at or before t=%d", symbol, a.clock.Now().Unix())}
	}
	return t, nil
}

// FetchOrderBook synthesizes a single-level book from the feed's bid/ask —
// a historical tick feed carries no real depth, matching the original's own
// simplification of treating the spread as the whole book.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	ticker, err := a.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderBook{}, err
	}
	return domain.OrderBook{
		Symbol: symbol,
		Bids:   []domain.BookEntry{{Price: ticker.Bid, Size: ticker.Volume}},
		Asks:   []domain.BookEntry{{Price: ticker.Ask, Size: ticker.Volume}},
	}, nil
}

func (a *Adapter) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return a.sim.Balances(), nil
}

func (a *Adapter) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	ticker, err := a.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	return a.sim.Place(ctx, symbol, side, amount, nil, ticker, a.markets[symbol])
}

func (a *Adapter) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	ticker, err := a.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	return a.sim.Place(ctx, symbol, side, amount, &price, ticker, a.markets[symbol])
}

func (a *Adapter) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	rec, ok := a.sim.Get(orderID)
	if !ok {
		return domain.OrderRecord{}, &domain.VenueError{Kind: domain.VenueErrOther, Op: "fetch-order", Err: fmt.Errorf("order not found: %s", orderID)}
	}
	return rec, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return a.sim.Cancel(orderID), nil
}

func (a *Adapter) ExecutionMetrics() ports.ExecutionMetrics { return a.sim.Metrics() }

// RateLimit is unbounded for a backtest — there is no real venue to
// throttle against.
func (a *Adapter) RateLimit() float64 { return 0 }
