// Package paper implements the Paper venue adapter: real market data from
// an underlying live data source, simulated order execution via
// internal/simfill — grounded on the original's PaperExchange, which
// wraps a live_exchange for price discovery and fakes fills on top of it.
package paper

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/simfill"
)

// wallClock is the real-time ports.Clock the Paper adapter runs its
// simulator over — as opposed to Backtest's stepped simulated clock.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adapter is the Paper VenueAdapter: LoadMarkets/FetchTicker/
// FetchOrderBook all pass through to marketData (a real Live adapter, or
// any other VenueAdapter); balances, order placement and polling are
// simulated entirely in-process via internal/simfill, so no real order
// ever reaches a venue.
type Adapter struct {
	marketData ports.VenueAdapter
	sim        *simfill.Simulator
	logger     *slog.Logger

	markets map[string]domain.Market
}

// New builds a Paper adapter. marketData supplies live quotes/books/
// markets; cfg tunes the fill simulation (slippage, fees, partial fills);
// initialBalances seeds the simulated account.
func New(marketData ports.VenueAdapter, cfg simfill.Config, initialBalances map[domain.Currency]float64, logger *slog.Logger) *Adapter {
	return &Adapter{
		marketData: marketData,
		sim:        simfill.New(cfg, wallClock{}, initialBalances),
		logger:     logger,
	}
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	markets, err := a.marketData.LoadMarkets(ctx)
	if err != nil {
		return nil, err
	}
	a.markets = markets
	return markets, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return a.marketData.FetchTicker(ctx, symbol)
}

func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	return a.marketData.FetchOrderBook(ctx, symbol)
}

// FetchBalance returns the simulator's running balances rather than the
// underlying live data source's real account balance — a paper strategy
// never touches the real account.
func (a *Adapter) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return a.sim.Metrics().FinalBalances, nil
}

func (a *Adapter) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	ticker, err := a.marketData.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	return a.sim.Place(ctx, symbol, side, amount, nil, ticker, a.markets[symbol])
}

func (a *Adapter) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	ticker, err := a.marketData.FetchTicker(ctx, symbol)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	return a.sim.Place(ctx, symbol, side, amount, &price, ticker, a.markets[symbol])
}

func (a *Adapter) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	rec, ok := a.sim.Get(orderID)
	if !ok {
		return domain.OrderRecord{}, &domain.VenueError{Kind: domain.VenueErrOther, Op: "fetch-order", Err: errNotFound(orderID)}
	}
	return rec, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return a.sim.Cancel(orderID), nil
}

func (a *Adapter) ExecutionMetrics() ports.ExecutionMetrics {
	return a.sim.Metrics()
}

func (a *Adapter) RateLimit() float64 {
	return a.marketData.RateLimit()
}

type errNotFound string

func (e errNotFound) Error() string { return "order not found: " + string(e) }
