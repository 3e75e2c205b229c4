package ports

import (
	"context"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// VenueAdapter is the uniform read/write contract for a trading venue.
// Live, Paper, and Backtest each implement it; the Cycle Execution Engine
// and Recovery Router depend only on this interface, never on a concrete
// backend.
//
// All operations are asynchronous (take a context) and cancellable.
type VenueAdapter interface {
	// LoadMarkets returns symbol -> Market. Must be called (and is cached
	// by the adapter) before any order operation.
	LoadMarkets(ctx context.Context) (map[string]domain.Market, error)

	// FetchTicker returns the current quote for symbol. Fails if the
	// symbol is unknown to the adapter's cached market set.
	FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error)

	// FetchOrderBook returns current depth for symbol, used by the
	// Recovery Router to estimate per-leg slippage.
	FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error)

	// FetchBalance returns currency -> free amount.
	FetchBalance(ctx context.Context) (map[domain.Currency]float64, error)

	// PlaceMarket submits a market order. Returns a categorized
	// *domain.VenueError on failure (rate-limited, insufficient-balance,
	// below-minimum, network, other).
	PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error)

	// PlaceLimit submits a limit order.
	PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error)

	// FetchOrder polls the current state of a previously placed order.
	FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error)

	// CancelOrder cancels an order; returns whether it was actually open.
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)

	// ExecutionMetrics is the simulators' side channel (Paper, Backtest);
	// Live returns a zero value.
	ExecutionMetrics() ExecutionMetrics

	// RateLimit returns the venue's documented request-rate budget, used
	// by the Order Coordinator's rate gate (§4.6).
	RateLimit() (requestsPerSecond float64)
}

// ExecutionMetrics is the side channel exposed by the Paper and Backtest
// simulators (§4.1).
type ExecutionMetrics struct {
	OrdersCreated   int
	OrdersFilled    int
	OrdersPartial   int
	OrdersCancelled int
	TotalVolume     float64
	AvgFeeBps       float64
	FillsPerOrder   float64
	FinalBalances   map[domain.Currency]float64
}

// Clock abstracts wall-clock vs. simulated time so the Backtest adapter can
// replace real sleeps with no-ops over a deterministic clock (§9).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
