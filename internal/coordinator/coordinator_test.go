package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// fakeVenue is a minimal ports.VenueAdapter stand-in that lets tests
// script placement/fetch behavior without any network.
type fakeVenue struct {
	placeAttempts int32
	placeErrs     []error // consumed in order, then nil forever
	fetchSequence []domain.OrderRecord
	fetchIndex    int32
}

func (f *fakeVenue) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) { return nil, nil }
func (f *fakeVenue) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, nil
}
func (f *fakeVenue) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *fakeVenue) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return nil, nil
}
func (f *fakeVenue) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	idx := atomic.AddInt32(&f.placeAttempts, 1) - 1
	if int(idx) < len(f.placeErrs) && f.placeErrs[idx] != nil {
		return domain.OrderRecord{}, f.placeErrs[idx]
	}
	return domain.OrderRecord{ID: "ord-1", Symbol: symbol, Side: side, RequestedAmount: amount, State: domain.OrderPending}, nil
}
func (f *fakeVenue) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	return f.PlaceMarket(ctx, symbol, side, amount)
}
func (f *fakeVenue) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	i := atomic.AddInt32(&f.fetchIndex, 1) - 1
	if int(i) >= len(f.fetchSequence) {
		return f.fetchSequence[len(f.fetchSequence)-1], nil
	}
	return f.fetchSequence[i], nil
}
func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return true, nil
}
func (f *fakeVenue) ExecutionMetrics() ports.ExecutionMetrics { return ports.ExecutionMetrics{} }
func (f *fakeVenue) RateLimit() float64                       { return 100 }

func newTestCoordinator(v *fakeVenue) *Coordinator {
	return New(v, Config{MaxRetries: 2, BaseRetryWait: time.Millisecond, RapidCheckInterval: time.Millisecond, RapidCheckThreshold: 10 * time.Millisecond, CacheTTL: time.Millisecond}, nil)
}

func TestPlaceOrderRetriesRetryableErrorsThenSucceeds(t *testing.T) {
	v := &fakeVenue{placeErrs: []error{
		&domain.VenueError{Kind: domain.VenueErrRateLimited, Op: "place", Err: errTest},
		&domain.VenueError{Kind: domain.VenueErrRateLimited, Op: "place", Err: errTest},
	}}
	c := newTestCoordinator(v)

	rec, err := c.PlaceOrder(context.Background(), "BTC/USD", "buy", 100, nil)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if rec.State != domain.OrderPlaced {
		t.Fatalf("expected PLACED, got %s", rec.State)
	}
	if v.placeAttempts != 3 {
		t.Fatalf("expected 3 attempts (2 retries + success), got %d", v.placeAttempts)
	}
}

func TestPlaceOrderDoesNotRetryNonRetryableError(t *testing.T) {
	v := &fakeVenue{placeErrs: []error{
		&domain.VenueError{Kind: domain.VenueErrInsufficientBalance, Op: "place", Err: errTest},
	}}
	c := newTestCoordinator(v)

	rec, err := c.PlaceOrder(context.Background(), "BTC/USD", "buy", 100, nil)
	if err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if rec.State != domain.OrderFailed {
		t.Fatalf("expected FAILED, got %s", rec.State)
	}
	if v.placeAttempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", v.placeAttempts)
	}
}

func TestMonitorOrderReturnsOnTerminalFill(t *testing.T) {
	v := &fakeVenue{fetchSequence: []domain.OrderRecord{
		{ID: "ord-1", Symbol: "BTC/USD", State: domain.OrderPending, RequestedAmount: 100},
		{ID: "ord-1", Symbol: "BTC/USD", State: domain.OrderFilled, RequestedAmount: 100, FilledAmount: 100},
	}}
	c := newTestCoordinator(v)

	order := &domain.OrderRecord{ID: "ord-1", Symbol: "BTC/USD", RequestedAmount: 100, State: domain.OrderPending}
	result, err := c.MonitorOrder(context.Background(), order, time.Second)
	if err != nil {
		t.Fatalf("MonitorOrder: %v", err)
	}
	if result.State != domain.OrderFilled {
		t.Fatalf("expected FILLED, got %s", result.State)
	}
}

func TestMonitorOrderTimesOutWithPartialFillBecomesPartiallyFilled(t *testing.T) {
	v := &fakeVenue{fetchSequence: []domain.OrderRecord{
		{ID: "ord-1", Symbol: "BTC/USD", State: domain.OrderPending, RequestedAmount: 100, FilledAmount: 40},
	}}
	c := newTestCoordinator(v)

	order := &domain.OrderRecord{ID: "ord-1", Symbol: "BTC/USD", RequestedAmount: 100, State: domain.OrderPending}
	result, err := c.MonitorOrder(context.Background(), order, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("MonitorOrder: %v", err)
	}
	if result.State != domain.OrderPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED on timeout with a positive fill, got %s", result.State)
	}
}

func TestMonitorOrderTimesOutWithNoFillBecomesFailed(t *testing.T) {
	v := &fakeVenue{fetchSequence: []domain.OrderRecord{
		{ID: "ord-1", Symbol: "BTC/USD", State: domain.OrderPending, RequestedAmount: 100, FilledAmount: 0},
	}}
	c := newTestCoordinator(v)

	order := &domain.OrderRecord{ID: "ord-1", Symbol: "BTC/USD", RequestedAmount: 100, State: domain.OrderPending}
	result, err := c.MonitorOrder(context.Background(), order, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("MonitorOrder: %v", err)
	}
	if result.State != domain.OrderFailed {
		t.Fatalf("expected FAILED on timeout with no fill, got %s", result.State)
	}
}

var errTest = &testError{"simulated venue failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
