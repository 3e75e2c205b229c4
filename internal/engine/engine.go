// Package engine implements the Cycle Execution Engine (§4.7): the
// per-cycle state machine, its per-leg execution loop, and crash
// recovery.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/risk"
	"github.com/evanward/triarb/internal/store"
)

// Router is the narrow interface the engine needs from the Recovery
// Router to panic-sell stuck holdings; declared here (rather than
// importing internal/router) so internal/router's own tests can depend
// on internal/engine's types without a cycle.
type Router interface {
	Liquidate(ctx context.Context, currency domain.Currency, amount float64) (finalAmount float64, finalCurrency domain.Currency, ok bool)
}

// Config tunes the engine's concurrency and recovery thresholds.
type Config struct {
	MaxOpenCycles          int
	ReservationTTL         time.Duration
	MaxConsecutiveLosses   int
	OrderMonitorTimeout    time.Duration
	StaleOrderAge          time.Duration // §4.7 crash recovery: PENDING/PLACED older than this is "stale"
	CrashRecoveryMaxAge    time.Duration // cycles older than this panic-sell immediately on recovery
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxOpenCycles <= 0 {
		cfg.MaxOpenCycles = 5
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 30 * time.Second
	}
	if cfg.OrderMonitorTimeout <= 0 {
		cfg.OrderMonitorTimeout = 30 * time.Second
	}
	if cfg.StaleOrderAge <= 0 {
		cfg.StaleOrderAge = 5 * time.Minute
	}
	if cfg.CrashRecoveryMaxAge <= 0 {
		cfg.CrashRecoveryMaxAge = time.Hour
	}
	return cfg
}

// Engine runs one cycle's state machine end to end. One Engine serves
// one strategy; the venue adapter, coordinator, risk controller, and
// state store are wired in at construction, per §4.1's hexagonal split.
type Engine struct {
	strategy    string
	cfg         Config
	venue       ports.VenueAdapter
	coordinator *coordinator.Coordinator
	risk        *risk.Controller
	store       *store.Store
	router      Router
	logger      *slog.Logger

	consecutiveLosses int
}

func New(strategy string, cfg Config, venue ports.VenueAdapter, coord *coordinator.Coordinator, riskCtl *risk.Controller, st *store.Store, router Router, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		strategy:    strategy,
		cfg:         defaultConfig(cfg),
		venue:       venue,
		coordinator: coord,
		risk:        riskCtl,
		store:       st,
		router:      router,
		logger:      logger,
	}
}

// RunCycle drives one cycle from PENDING through to a terminal state.
// cycleKey identifies the currency triple for cooldown/consecutive-loss
// purposes (e.g. "USD->BTC->ETH", as domain.Cycle.Key builds it).
func (e *Engine) RunCycle(ctx context.Context, id, cycleKey string, cycle domain.Cycle, amount float64) (*domain.CycleRecord, error) {
	rec := domain.NewCycleRecord(id, e.strategy, cycle, amount)

	if e.cfg.MaxConsecutiveLosses > 0 && e.consecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		rec.Fail("consecutive loss limit reached")
		e.store.Save(rec)
		return rec, nil
	}

	if blocked, remaining := e.risk.PreTradeCheck(cycleKey, time.Now()); blocked {
		rec.Fail(fmt.Sprintf("cycle key in cooldown, %.1fs remaining", remaining.Seconds()))
		e.store.Save(rec)
		return rec, domain.ErrCycleInCooldown
	}

	reservationID, err := e.store.ReserveSlot(ctx, e.strategy, e.cfg.ReservationTTL, e.cfg.MaxOpenCycles)
	if err != nil {
		rec.Fail("rejected: max cycles")
		e.store.Save(rec)
		return rec, err
	}
	if err := e.store.ConfirmReservation(ctx, reservationID, rec.ID); err != nil {
		e.logger.Warn("failed to confirm reservation", "cycle_id", rec.ID, "error", err)
	}

	rec.State = domain.CycleValidating
	e.store.Save(rec)

	markets, err := e.venue.LoadMarkets(ctx)
	if err != nil {
		rec.Fail(fmt.Sprintf("load markets: %v", err))
		e.store.Save(rec)
		return rec, err
	}

	if err := e.validateLegMinimums(ctx, rec, markets); err != nil {
		rec.Fail(err.Error())
		e.store.Save(rec)
		return rec, err
	}

	rec.State = domain.CycleActive
	e.store.Save(rec)

	for leg := 0; leg < 3; leg++ {
		source := rec.Currencies[leg%3]
		target := rec.Currencies[(leg+1)%3]

		ok := e.executeLeg(ctx, rec, leg, markets, source, target, cycleKey)
		if !ok {
			return e.enterPanicSelling(ctx, rec)
		}
		rec.CurrentStep = leg + 1
		e.store.Save(rec)
	}

	if err := rec.Complete(); err != nil {
		rec.Fail(err.Error())
		e.store.Save(rec)
		e.recordLossOrWin(false)
		return rec, err
	}
	e.store.Save(rec)
	e.risk.EndCycle(rec.ID)
	e.recordLossOrWin(*rec.RealizedPnL > 0)
	return rec, nil
}

func (e *Engine) recordLossOrWin(profitable bool) {
	if profitable {
		e.consecutiveLosses = 0
	} else {
		e.consecutiveLosses++
	}
}

// validateLegMinimums projects each of the cycle's three legs forward at
// current venue quotes and fails the moment any leg's traded amount would
// land below that market's own MinOrderAmount/MinOrderNotional — the
// VALIDATING-stage gate spec.md requires before a cycle is allowed to go
// ACTIVE (VALIDATING -> ACTIVE only once all legs clear venue minimums,
// VALIDATING -> FAILED the instant one doesn't). This is a distinct check
// from the decision engine's dust filter (MinPositionUSD/
// LegMinNotionalUSD in internal/decision), which guards against a trade
// too small to be worth the fixed costs of trading at all; this one
// guards against a size the venue itself would reject as an order.
func (e *Engine) validateLegMinimums(ctx context.Context, rec *domain.CycleRecord, markets map[string]domain.Market) error {
	amount := rec.CurrentAmount

	for leg := 0; leg < 3; leg++ {
		source := rec.Currencies[leg%3]
		target := rec.Currencies[(leg+1)%3]

		symbol, side, ok := domain.Side(markets, source, target)
		if !ok {
			return fmt.Errorf("%w: leg %d: no market for %s->%s", domain.ErrLegUnresolvable, leg, source, target)
		}
		mkt, ok := markets[symbol]
		if !ok {
			return fmt.Errorf("%w: leg %d: unknown market %s", domain.ErrBelowMinimum, leg, symbol)
		}
		ticker, err := e.venue.FetchTicker(ctx, symbol)
		if err != nil {
			return fmt.Errorf("leg %d: fetch ticker %s: %w", leg, symbol, err)
		}

		var baseAmount, quoteNotional float64
		switch side {
		case "buy":
			if ticker.Ask <= 0 {
				return fmt.Errorf("leg %d: %s: no ask price", leg, symbol)
			}
			baseAmount = amount / ticker.Ask
			quoteNotional = amount
			amount = baseAmount
		default: // sell
			if ticker.Bid <= 0 {
				return fmt.Errorf("leg %d: %s: no bid price", leg, symbol)
			}
			baseAmount = amount
			quoteNotional = amount * ticker.Bid
			amount = quoteNotional
		}

		if mkt.MinOrderAmount > 0 && baseAmount < mkt.MinOrderAmount {
			return fmt.Errorf("%w: leg %d: %s amount %.8f < min %.8f", domain.ErrBelowMinimum, leg, symbol, baseAmount, mkt.MinOrderAmount)
		}
		if mkt.MinOrderNotional > 0 && quoteNotional < mkt.MinOrderNotional {
			return fmt.Errorf("%w: leg %d: %s notional %.8f < min %.8f", domain.ErrBelowMinimum, leg, symbol, quoteNotional, mkt.MinOrderNotional)
		}
	}
	return nil
}

// executeLeg runs the seven-step per-leg execution described in §4.7
// and returns whether it succeeded.
func (e *Engine) executeLeg(ctx context.Context, rec *domain.CycleRecord, leg int, markets map[string]domain.Market, source, target domain.Currency, cycleKey string) bool {
	symbol, side, ok := domain.Side(markets, source, target)
	if !ok {
		rec.Fail("no market for leg direction")
		return false
	}

	ticker, err := e.venue.FetchTicker(ctx, symbol)
	if err != nil {
		rec.Fail(fmt.Sprintf("fetch ticker: %v", err))
		return false
	}
	var expectedPx float64
	if side == "buy" {
		expectedPx = ticker.Ask
	} else {
		expectedPx = ticker.Bid
	}

	start := time.Now()
	placed, err := e.coordinator.PlaceOrder(ctx, symbol, side, rec.CurrentAmount, nil)
	if err != nil {
		rec.Fail(fmt.Sprintf("place order: %v", err))
		return false
	}
	placed.LegIndex = leg
	rec.Orders = append(rec.Orders, *placed)

	filled, err := e.coordinator.MonitorOrder(ctx, placed, e.cfg.OrderMonitorTimeout)
	if err != nil {
		rec.Fail(fmt.Sprintf("monitor order: %v", err))
		return false
	}
	rec.Orders[len(rec.Orders)-1] = *filled

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	latMeas := risk.LatencyMeasurement{LegIndex: leg, MarketSymbol: symbol, Start: start, End: time.Now(), LatencyMS: latencyMs, Side: side}
	latViolated, err := e.risk.RecordLatency(rec.ID, cycleKey, latMeas, time.Now())
	if err != nil {
		e.logger.Warn("failed to record latency violation", "error", err)
	}
	if latViolated {
		rec.Fail(fmt.Sprintf("leg %d latency violation: %.1fms", leg, latencyMs))
		return false
	}

	if filled.State == domain.OrderFailed {
		rec.Fail(fmt.Sprintf("leg %d order failed: %s", leg, filled.ErrorMessage))
		return false
	}

	if filled.AvgFillPrice > 0 {
		slipMeas := risk.SlippageMeasurement{LegIndex: leg, MarketSymbol: symbol, Side: side, ExpectedPx: expectedPx, ExecutedPx: filled.AvgFillPrice}
		slipViolated, err := e.risk.RecordSlippage(rec.ID, cycleKey, slipMeas, time.Now())
		if err != nil {
			e.logger.Warn("failed to record slippage violation", "error", err)
		}
		if slipViolated {
			rec.Fail(fmt.Sprintf("leg %d slippage violation", leg))
			return false
		}
	}

	switch side {
	case "buy":
		rec.CurrentAmount = filled.FilledAmount
	default: // sell
		rec.CurrentAmount = filled.FilledAmount * filled.AvgFillPrice
	}
	rec.CurrentCcy = target

	if filled.State == domain.OrderPartiallyFilled && filled.FilledAmount <= 0 {
		rec.Fail(fmt.Sprintf("leg %d unacceptable partial fill", leg))
		return false
	}
	return true
}

// enterPanicSelling hands the cycle's current holdings to the Recovery
// Router; the cycle always ends FAILED, but with converted holdings on
// router success.
func (e *Engine) enterPanicSelling(ctx context.Context, rec *domain.CycleRecord) (*domain.CycleRecord, error) {
	rec.State = domain.CyclePanicSelling
	e.store.Save(rec)

	if e.router == nil || rec.CurrentAmount <= 0 {
		rec.Fail("panic-selling unavailable, holdings stuck")
		e.store.Save(rec)
		e.recordLossOrWin(false)
		return rec, nil
	}

	finalAmount, finalCcy, ok := e.router.Liquidate(ctx, rec.CurrentCcy, rec.CurrentAmount)
	if !ok {
		rec.Fail(fmt.Sprintf("panic-selling failed, holdings stuck in %s", rec.CurrentCcy))
		e.store.Save(rec)
		e.recordLossOrWin(false)
		return rec, nil
	}

	rec.CurrentAmount = finalAmount
	rec.CurrentCcy = finalCcy
	rec.Fail(fmt.Sprintf("panic-sold to %s via recovery router", finalCcy))
	e.store.Save(rec)
	e.recordLossOrWin(false)
	return rec, nil
}
