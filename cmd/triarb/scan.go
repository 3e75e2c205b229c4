package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/evanward/triarb/internal/decision"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/engine"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/risk"
	"github.com/evanward/triarb/internal/store"
	"github.com/google/uuid"
)

// walkSlippageGuard is the per-leg conservative discount applied while
// walking a cycle's cross rate, matching the original's pre_trade_check
// (each leg's converted amount is scaled by 0.999 before the next leg sees
// it) rather than an arbitrary constant of our own.
const walkSlippageGuard = 0.999

// walkCycle converts startAmount through all three legs of cyc using
// current ticker prices, mirroring pre_trade_check's per-leg arithmetic: a
// buy leg divides by the ask, a sell leg multiplies by the bid, each
// reduced by walkSlippageGuard before the next leg. It returns the gross
// percentage return over the full round trip, the notional value
// committed at each leg (for the decision engine's per-leg dust check),
// and the summed taker-fee percentage across the three legs.
func walkCycle(ctx context.Context, venue ports.VenueAdapter, markets map[string]domain.Market, cyc domain.Cycle, startAmount float64) (grossPct float64, legNotional [3]float64, feesPct float64, err error) {
	amount := startAmount
	legNotional[0] = startAmount

	for i, leg := range cyc.Legs() {
		source, target := leg[0], leg[1]
		symbol, side, ok := domain.Side(markets, source, target)
		if !ok {
			return 0, legNotional, 0, fmt.Errorf("triarb: no market for %s->%s", source, target)
		}

		ticker, err := venue.FetchTicker(ctx, symbol)
		if err != nil {
			return 0, legNotional, 0, fmt.Errorf("triarb: fetch ticker %s: %w", symbol, err)
		}
		mkt, ok := markets[symbol]
		if !ok {
			return 0, legNotional, 0, fmt.Errorf("triarb: unknown market %s", symbol)
		}

		switch side {
		case "buy":
			if ticker.Ask <= 0 {
				return 0, legNotional, 0, fmt.Errorf("triarb: %s: no ask price", symbol)
			}
			amount = (amount / ticker.Ask) * walkSlippageGuard
		default: // "sell"
			if ticker.Bid <= 0 {
				return 0, legNotional, 0, fmt.Errorf("triarb: %s: no bid price", symbol)
			}
			amount = (amount * ticker.Bid) * walkSlippageGuard
		}
		feesPct += mkt.TakerFeeRate * 100

		if i < 2 {
			legNotional[i+1] = amount
		}
	}

	grossPct = (amount/startAmount - 1) * 100
	return grossPct, legNotional, feesPct, nil
}

// cycleScanner repeatedly walks a strategy's candidate cycles, evaluates
// each through the decision engine, and executes the ones that clear it.
// One instance serves one strategy; the venue adapter underneath
// determines whether that means live orders, simulated paper fills, or a
// historical backtest replay.
type cycleScanner struct {
	venue    ports.VenueAdapter
	decide   *decision.Engine
	riskCtl  *risk.Controller
	eng      *engine.Engine
	st       *store.Store
	cycles   []domain.Cycle
	strategy string
	baseSize func(available float64) float64
	logger   *slog.Logger
	notify   func(ctx context.Context, event string, fields map[string]any) error

	mu       sync.Mutex
	lastRun  map[string]time.Time
}

func newCycleScanner(
	venue ports.VenueAdapter,
	decide *decision.Engine,
	riskCtl *risk.Controller,
	eng *engine.Engine,
	st *store.Store,
	cycles []domain.Cycle,
	strategy string,
	baseSize func(available float64) float64,
	logger *slog.Logger,
	notify func(ctx context.Context, event string, fields map[string]any) error,
) *cycleScanner {
	return &cycleScanner{
		venue: venue, decide: decide, riskCtl: riskCtl, eng: eng, st: st,
		cycles: cycles, strategy: strategy, baseSize: baseSize, logger: logger,
		notify: notify, lastRun: map[string]time.Time{},
	}
}

// ScanOnce evaluates every candidate cycle once and executes the ones the
// decision engine clears, returning how many were executed.
func (s *cycleScanner) ScanOnce(ctx context.Context) (executed int) {
	markets, err := s.venue.LoadMarkets(ctx)
	if err != nil {
		s.logger.Error("scan: load markets failed", "error", err)
		return 0
	}
	balances, err := s.venue.FetchBalance(ctx)
	if err != nil {
		s.logger.Error("scan: fetch balance failed", "error", err)
		return 0
	}

	for _, cyc := range s.cycles {
		if s.evaluateAndMaybeExecute(ctx, markets, balances, cyc) {
			executed++
		}
	}
	return executed
}

func (s *cycleScanner) evaluateAndMaybeExecute(ctx context.Context, markets map[string]domain.Market, balances map[domain.Currency]float64, cyc domain.Cycle) bool {
	cycleKey := cyc.Key()
	available := balances[cyc[0]]
	amount := s.baseSize(available)
	if amount <= 0 {
		return false
	}

	grossPct, legNotional, feesPct, err := walkCycle(ctx, s.venue, markets, cyc, amount)
	hasQuote := err == nil
	if err != nil {
		s.logger.Debug("scan: walk failed", "cycle", cycleKey, "error", err)
	}

	// The cumulative effect of the walk's own per-leg slippage guard across
	// three legs stands in for a pre-trade slippage estimate — it is the
	// only slippage figure known before any order is placed.
	slipPct := (1 - math.Pow(walkSlippageGuard, 3)) * 100

	blocked, remaining := s.riskCtl.PreTradeCheck(cycleKey, time.Now())

	s.mu.Lock()
	last, seen := s.lastRun[cycleKey]
	s.mu.Unlock()
	var secondsSince *float64
	if seen {
		v := time.Since(last).Seconds()
		secondsSince = &v
	}

	active, _ := s.st.GetActiveCycles(ctx, s.strategy)

	in := decision.Inputs{
		GrossPct:                grossPct,
		FeesPct:                 feesPct,
		SlipPct:                 slipPct,
		GasPct:                  0, // no on-chain leg on a CEX triangular cycle
		SizeUSD:                 amount,
		CurrentConcurrentTrades: len(active),
		SecondsSinceLastTrade:   secondsSince,
		ExchangeReady:           !blocked,
		HasQuote:                hasQuote,
		HasGasEstimate:          true,
		Legs: []decision.LegNotional{
			{NotionalUSD: legNotional[0]},
			{NotionalUSD: legNotional[1]},
			{NotionalUSD: legNotional[2]},
		},
	}

	d := s.decide.Evaluate(in)
	s.logger.Info(d.FormatLog(time.Now()), "cycle", cycleKey)

	if d.Action != "EXECUTE" {
		if blocked {
			s.logger.Debug("scan: cycle in cooldown", "cycle", cycleKey, "remaining", remaining)
		}
		return false
	}

	s.mu.Lock()
	s.lastRun[cycleKey] = time.Now()
	s.mu.Unlock()

	id := uuid.NewString()
	s.notify(ctx, "cycle_execute", map[string]any{
		"cycle": cycleKey, "id": id, "gross_pct": grossPct, "net_pct": d.Metrics["net_pct"], "size_usd": amount,
	})

	rec, err := s.eng.RunCycle(ctx, id, cycleKey, cyc, amount)
	if err != nil {
		s.logger.Warn("scan: cycle failed", "cycle", cycleKey, "id", id, "error", err)
		return true
	}
	pnl := 0.0
	if rec.RealizedPnL != nil {
		pnl = *rec.RealizedPnL
	}
	s.logger.Info("scan: cycle finished", "cycle", cycleKey, "id", id, "state", rec.State, "pnl", pnl)
	return true
}
