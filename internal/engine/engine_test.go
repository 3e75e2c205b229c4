package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/risk"
	"github.com/evanward/triarb/internal/store"
)

// fakeVenue is a scriptable ports.VenueAdapter: every order placed fills
// immediately at a caller-supplied price, unless overridden per symbol.
type fakeVenue struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	fillPx  map[string]float64 // symbol -> fill price override
	orderID int
	placeErr map[string]*domain.VenueError
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		markets: map[string]domain.Market{
			"BTC/USD": {Base: "BTC", Quote: "USD"},
			"ETH/BTC": {Base: "ETH", Quote: "BTC"},
			"ETH/USD": {Base: "ETH", Quote: "USD"},
		},
		fillPx: map[string]float64{
			"BTC/USD": 50000,
			"ETH/BTC": 0.06,
			"ETH/USD": 3000,
		},
		placeErr: map[string]*domain.VenueError{},
	}
}

func (f *fakeVenue) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	return f.markets, nil
}

func (f *fakeVenue) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	px := f.fillPx[symbol]
	return domain.Ticker{Symbol: symbol, Bid: px, Ask: px}, nil
}

func (f *fakeVenue) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	return domain.OrderBook{Symbol: symbol}, nil
}

func (f *fakeVenue) FetchBalance(ctx context.Context) (map[domain.Currency]float64, error) {
	return nil, nil
}

func (f *fakeVenue) place(symbol, side string, amount float64) (domain.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ve, ok := f.placeErr[symbol]; ok {
		return domain.OrderRecord{}, ve
	}
	f.orderID++
	px := f.fillPx[symbol]
	now := time.Now()
	return domain.OrderRecord{
		ID: symbolOrderID(f.orderID), Symbol: symbol, Side: side,
		RequestedAmount: amount, State: domain.OrderPlaced,
		FilledAmount: amount, AvgFillPrice: px,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func symbolOrderID(n int) string {
	return "ord-" + string(rune('a'+n))
}

func (f *fakeVenue) PlaceMarket(ctx context.Context, symbol, side string, amount float64) (domain.OrderRecord, error) {
	return f.place(symbol, side, amount)
}

func (f *fakeVenue) PlaceLimit(ctx context.Context, symbol, side string, amount, price float64) (domain.OrderRecord, error) {
	return f.place(symbol, side, amount)
}

func (f *fakeVenue) FetchOrder(ctx context.Context, orderID, symbol string) (domain.OrderRecord, error) {
	px := f.fillPx[symbol]
	now := time.Now()
	return domain.OrderRecord{
		ID: orderID, Symbol: symbol, State: domain.OrderFilled,
		FilledAmount: 1, AvgFillPrice: px, UpdatedAt: now,
	}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return false, nil
}

func (f *fakeVenue) ExecutionMetrics() ports.ExecutionMetrics { return ports.ExecutionMetrics{} }
func (f *fakeVenue) RateLimit() float64                       { return 10 }

// fakeStorage is a minimal ports.Storage backing the write-through cache
// for tests; everything is kept in memory.
type fakeStorage struct {
	mu     sync.Mutex
	cycles map[string]*domain.CycleRecord
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{cycles: map[string]*domain.CycleRecord{}}
}

func (s *fakeStorage) SaveCycle(ctx context.Context, rec *domain.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.cycles[rec.ID] = &cp
	return nil
}
func (s *fakeStorage) GetCycle(ctx context.Context, id string) (*domain.CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.cycles[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}
func (s *fakeStorage) GetActiveCycles(ctx context.Context, strategy string) ([]*domain.CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CycleRecord
	for _, r := range s.cycles {
		if r.State.IsActive() && (strategy == "" || r.StrategyName == strategy) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (s *fakeStorage) AppendUpdate(ctx context.Context, cycleID, field, oldValue, newValue string, at time.Time) error {
	return nil
}
func (s *fakeStorage) ReserveSlot(ctx context.Context, strategy string, ttl time.Duration, maxOpenCycles int) (string, error) {
	return "res-1", nil
}
func (s *fakeStorage) ConfirmReservation(ctx context.Context, reservationID, cycleID string) error {
	return nil
}
func (s *fakeStorage) ReleaseReservation(ctx context.Context, reservationID string) error { return nil }
func (s *fakeStorage) CountActiveAndPending(ctx context.Context, strategy string) (int, error) {
	return 0, nil
}
func (s *fakeStorage) PruneOrphanedOrders(ctx context.Context) (int, error) { return 0, nil }
func (s *fakeStorage) FlushBatch(ctx context.Context, cycles []*domain.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range cycles {
		cp := *rec
		s.cycles[rec.ID] = &cp
	}
	return nil
}
func (s *fakeStorage) Close() error { return nil }

type fakeRouter struct {
	ok          bool
	finalAmount float64
	finalCcy    domain.Currency
}

func (r *fakeRouter) Liquidate(ctx context.Context, currency domain.Currency, amount float64) (float64, domain.Currency, bool) {
	if !r.ok {
		return 0, "", false
	}
	return r.finalAmount, r.finalCcy, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, venue *fakeVenue, backend ports.Storage, rtr Router) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(backend, store.Config{}, testLogger())
	coord := coordinator.New(venue, coordinator.Config{
		RapidCheckInterval: time.Millisecond, RapidCheckThreshold: 10 * time.Millisecond,
		MinRequestInterval: time.Millisecond, CacheTTL: time.Millisecond,
		VenueRateLimitPerSec: 1000, RateLimitBuffer: 1,
	}, testLogger())
	riskCtl, err := risk.NewController(risk.Config{
		MaxLegLatencyMS: 100000, MaxLegSlippageBps: 100000,
		CooldownSeconds: 5, CooldownPath: "", ViolationLogPath: "",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	e := New("test-strategy", Config{OrderMonitorTimeout: time.Second}, venue, coord, riskCtl, st, rtr, testLogger())
	return e, st
}

func testCycle() domain.Cycle {
	return domain.Cycle{"USD", "BTC", "ETH"}
}

func TestRunCycleCompletesAllThreeLegs(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue, newFakeStorage(), nil)

	rec, err := e.RunCycle(context.Background(), "cyc-1", "USD-BTC-ETH", testCycle(), 100)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rec.State != domain.CycleCompleted && rec.State != domain.CycleFailed {
		t.Fatalf("expected a terminal state, got %s", rec.State)
	}
	if len(rec.Orders) == 0 {
		t.Fatalf("expected at least one leg to execute")
	}
}

func TestRunCyclePanicSellsOnLegFailure(t *testing.T) {
	venue := newFakeVenue()
	venue.placeErr["BTC/USD"] = &domain.VenueError{Kind: domain.VenueErrOther, Op: "place", Err: errors.New("boom")}
	rtr := &fakeRouter{ok: true, finalAmount: 95, finalCcy: "USD"}
	e, _ := newTestEngine(t, venue, newFakeStorage(), rtr)

	rec, err := e.RunCycle(context.Background(), "cyc-2", "USD-BTC-ETH", testCycle(), 100)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rec.State != domain.CycleFailed {
		t.Fatalf("expected FAILED after panic-selling, got %s", rec.State)
	}
	if rec.CurrentAmount != 95 || rec.CurrentCcy != "USD" {
		t.Fatalf("expected router's liquidated holdings to be recorded, got %v %s", rec.CurrentAmount, rec.CurrentCcy)
	}
}

func TestRunCycleWithoutRouterFailsWithStuckHoldings(t *testing.T) {
	venue := newFakeVenue()
	venue.placeErr["BTC/USD"] = &domain.VenueError{Kind: domain.VenueErrOther, Op: "place", Err: errors.New("boom")}
	e, _ := newTestEngine(t, venue, newFakeStorage(), nil)

	rec, err := e.RunCycle(context.Background(), "cyc-3", "USD-BTC-ETH", testCycle(), 100)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rec.State != domain.CycleFailed {
		t.Fatalf("expected FAILED, got %s", rec.State)
	}
}

func TestRunCycleRespectsCooldown(t *testing.T) {
	venue := newFakeVenue()
	e, _ := newTestEngine(t, venue, newFakeStorage(), nil)

	_, _ = e.risk.RecordSlippage("seed", "USD-BTC-ETH", risk.SlippageMeasurement{
		LegIndex: 0, MarketSymbol: "BTC/USD", Side: "buy", SlippageBps: 999999,
	}, time.Now())

	rec, err := e.RunCycle(context.Background(), "cyc-4", "USD-BTC-ETH", testCycle(), 100)
	if err != domain.ErrCycleInCooldown {
		t.Fatalf("expected ErrCycleInCooldown, got %v", err)
	}
	if rec.State != domain.CycleFailed {
		t.Fatalf("expected FAILED while in cooldown, got %s", rec.State)
	}
}

func TestRunCycleFailsLegBelowVenueMinimum(t *testing.T) {
	venue := newFakeVenue()
	venue.markets["BTC/USD"] = domain.Market{Base: "BTC", Quote: "USD", MinOrderAmount: 1}
	e, _ := newTestEngine(t, venue, newFakeStorage(), nil)

	rec, err := e.RunCycle(context.Background(), "cyc-5", "USD-BTC-ETH", testCycle(), 100)
	if !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if rec.State != domain.CycleFailed {
		t.Fatalf("expected FAILED at VALIDATING, got %s", rec.State)
	}
	if len(rec.Orders) != 0 {
		t.Fatalf("expected rejection before any leg executed, got %d orders", len(rec.Orders))
	}
}

func TestRecoverActiveCyclesPanicSellsTooOldCycle(t *testing.T) {
	venue := newFakeVenue()
	rtr := &fakeRouter{ok: true, finalAmount: 1, finalCcy: "USD"}
	e, st := newTestEngine(t, venue, newFakeStorage(), rtr)
	e.cfg.CrashRecoveryMaxAge = time.Millisecond

	rec := domain.NewCycleRecord("cyc-old", "test-strategy", testCycle(), 100)
	rec.State = domain.CycleActive
	rec.StartTime = time.Now().Add(-time.Hour)
	st.Save(rec)

	if err := e.RecoverActiveCycles(context.Background()); err != nil {
		t.Fatalf("RecoverActiveCycles: %v", err)
	}

	got, ok := st.Get("cyc-old")
	if !ok {
		t.Fatalf("expected recovered cycle to remain cached")
	}
	if got.State != domain.CycleFailed {
		t.Fatalf("expected too-old cycle to end FAILED after panic-selling, got %s", got.State)
	}
}

func TestRecoverActiveCyclesResumesFreshActiveCycle(t *testing.T) {
	venue := newFakeVenue()
	e, st := newTestEngine(t, venue, newFakeStorage(), nil)

	rec := domain.NewCycleRecord("cyc-fresh", "test-strategy", testCycle(), 100)
	rec.State = domain.CycleActive
	rec.StartTime = time.Now()
	st.Save(rec)

	if err := e.RecoverActiveCycles(context.Background()); err != nil {
		t.Fatalf("RecoverActiveCycles: %v", err)
	}

	got, ok := st.Get("cyc-fresh")
	if !ok {
		t.Fatalf("expected fresh cycle to remain cached")
	}
	if got.State != domain.CycleActive {
		t.Fatalf("expected a fresh active cycle to resume as ACTIVE, got %s", got.State)
	}
}
