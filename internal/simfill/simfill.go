// Package simfill implements the fill-simulation lifecycle shared by the
// Paper and Backtest venue adapters: slippage modeling, partial fills with
// inter-fill delay, market-impact sizing, and fee calculation.
//
// Grounded on the original's PaperExchange (_execute_market_order,
// _calculate_execution_price, _determine_fill_amount,
// _simulate_partial_fills, _create_fill) — one Go implementation instead of
// the original's single-exchange class, parameterized by a ports.Clock so
// the Backtest adapter can drive it over simulated time.
package simfill

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
	"github.com/google/uuid"
)

// MarketImpactConfig models added slippage for large orders relative to book
// depth, in basis points per $1000 of notional, capped at MaxImpactBps.
type MarketImpactConfig struct {
	Enabled           bool
	ImpactCoefficient float64
	MaxImpactBps      float64
}

// PartialFillConfig controls whether and how an order is split into several
// fills delivered over time.
type PartialFillConfig struct {
	Enabled               bool
	MinFillRatio          float64
	FillTimeSpread        time.Duration
	LargeOrderThresholdUSD float64
}

// SlippageConfig is the additive basis-point slippage model applied to
// every fill, split into a deterministic base cost and a random component.
type SlippageConfig struct {
	BaseSlippageBps       float64
	VolatilityMultiplier  float64
	RandomComponentBps    float64
	AdverseSelectionBps   float64
}

// Config is the full simulated-fill behavior for one venue instance.
type Config struct {
	FeeBps           float64
	FillRatio        float64 // probability of a single complete fill
	SpreadPaddingBps float64
	LatencySim       time.Duration
	RandomSeed       int64

	MarketImpact MarketImpactConfig
	PartialFill  PartialFillConfig
	Slippage     SlippageConfig
}

func defaultConfig(cfg Config) Config {
	if cfg.FeeBps == 0 {
		cfg.FeeBps = 30
	}
	if cfg.FillRatio == 0 {
		cfg.FillRatio = 0.95
	}
	if cfg.SpreadPaddingBps == 0 {
		cfg.SpreadPaddingBps = 5
	}
	if cfg.MarketImpact.ImpactCoefficient == 0 {
		cfg.MarketImpact.ImpactCoefficient = 0.1
	}
	if cfg.MarketImpact.MaxImpactBps == 0 {
		cfg.MarketImpact.MaxImpactBps = 50
	}
	if cfg.PartialFill.MinFillRatio == 0 {
		cfg.PartialFill.MinFillRatio = 0.3
	}
	if cfg.PartialFill.FillTimeSpread == 0 {
		cfg.PartialFill.FillTimeSpread = 500 * time.Millisecond
	}
	if cfg.PartialFill.LargeOrderThresholdUSD == 0 {
		cfg.PartialFill.LargeOrderThresholdUSD = 1000
	}
	if cfg.Slippage.BaseSlippageBps == 0 {
		cfg.Slippage.BaseSlippageBps = 2
	}
	if cfg.Slippage.VolatilityMultiplier == 0 {
		cfg.Slippage.VolatilityMultiplier = 1.5
	}
	if cfg.Slippage.RandomComponentBps == 0 {
		cfg.Slippage.RandomComponentBps = 3
	}
	if cfg.Slippage.AdverseSelectionBps == 0 {
		cfg.Slippage.AdverseSelectionBps = 1
	}
	return cfg
}

// Fill is one partial or complete execution against an order.
type Fill struct {
	ID        string
	Price     float64
	Amount    float64
	Fee       float64
	Timestamp time.Time
	Partial   bool
}

type orderState struct {
	record   domain.OrderRecord
	limit    *float64
	fills    []Fill
	sequence uint64
}

// Simulator is the shared fill-simulation engine. One instance backs either
// a Paper or a Backtest adapter; the only difference between the two is the
// Clock passed in (wall time vs. a stepped simulated clock).
type Simulator struct {
	cfg   Config
	clock ports.Clock

	mu       sync.Mutex
	orders   map[string]*orderState
	sequence uint64
	balances map[domain.Currency]float64
}

// New builds a Simulator. clock is wall time for the Paper adapter and a
// simulated clock for Backtest (§9's "replace real sleeps with no-ops").
// initialBalances seeds the simulated account, matching the original's
// config.initial_balances.
func New(cfg Config, clock ports.Clock, initialBalances map[domain.Currency]float64) *Simulator {
	balances := make(map[domain.Currency]float64, len(initialBalances))
	for k, v := range initialBalances {
		balances[k] = v
	}
	return &Simulator{
		cfg:      defaultConfig(cfg),
		clock:    clock,
		orders:   make(map[string]*orderState),
		balances: balances,
	}
}

// rngFor derives a dedicated RNG for one order, seeded from
// (RandomSeed, symbol, sequence) so that, per the original's
// "deterministic per-seed RNG stream keyed by (symbol, order_sequence)",
// replays with the same seed and the same call order are byte-identical,
// and concurrent orders on different symbols don't perturb each other's
// draws by sharing one stream.
func (s *Simulator) rngFor(symbol string, sequence uint64) *rand.Rand {
	h := fnvHash(fmt.Sprintf("%d|%s|%d", s.cfg.RandomSeed, symbol, sequence))
	return rand.New(rand.NewSource(int64(h)))
}

func fnvHash(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// Place simulates submission of a market or limit order against ticker, the
// current quote for symbol. For a limit order whose price is not
// immediately marketable, the order is left PENDING (queued) rather than
// filled — matching the original's "order remains pending" simplified
// resting-order behavior.
func (s *Simulator) Place(ctx context.Context, symbol, side string, amount float64, limitPrice *float64, ticker domain.Ticker, market domain.Market) (domain.OrderRecord, error) {
	if s.cfg.LatencySim > 0 {
		if err := s.clock.Sleep(ctx, s.cfg.LatencySim); err != nil {
			return domain.OrderRecord{}, err
		}
	}

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()

	id := uuid.NewString()
	now := s.clock.Now()
	rec := domain.OrderRecord{
		ID: id, Symbol: symbol, Side: side, RequestedAmount: amount,
		LimitPrice: limitPrice, State: domain.OrderPending, CreatedAt: now, UpdatedAt: now,
	}

	basePrice := ticker.Ask
	if side == "sell" {
		basePrice = ticker.Bid
	}
	if basePrice <= 0 {
		rec.State = domain.OrderFailed
		rec.ErrorMessage = "no liquidity: zero-price ticker"
		s.store(id, &orderState{record: rec, limit: limitPrice, sequence: seq})
		return rec, nil
	}

	if limitPrice != nil {
		marketable := (side == "buy" && *limitPrice >= ticker.Ask) || (side == "sell" && *limitPrice <= ticker.Bid)
		if !marketable {
			s.store(id, &orderState{record: rec, limit: limitPrice, sequence: seq})
			return rec, nil
		}
	}

	rng := s.rngFor(symbol, seq)
	execPrice := s.executionPrice(rng, basePrice, side, amount)
	if limitPrice != nil {
		if side == "buy" && execPrice > *limitPrice {
			execPrice = *limitPrice
		} else if side == "sell" && execPrice < *limitPrice {
			execPrice = *limitPrice
		}
	}

	st := &orderState{record: rec, limit: limitPrice, sequence: seq}
	s.execute(ctx, rng, st, execPrice, amount, market)
	s.store(id, st)
	return st.record, nil
}

func (s *Simulator) store(id string, st *orderState) {
	s.mu.Lock()
	s.orders[id] = st
	s.mu.Unlock()
}

// executionPrice applies the additive slippage model: base cost, market
// impact scaled by notional, spread padding, a random component, and a
// fixed adverse-selection cost — always unfavorable to the taker, matching
// _calculate_execution_price exactly.
func (s *Simulator) executionPrice(rng *rand.Rand, basePrice float64, side string, amount float64) float64 {
	bps := s.cfg.Slippage.BaseSlippageBps

	if s.cfg.MarketImpact.Enabled {
		notional := amount * basePrice
		impact := (notional / 1000.0) * s.cfg.MarketImpact.ImpactCoefficient
		if impact > s.cfg.MarketImpact.MaxImpactBps {
			impact = s.cfg.MarketImpact.MaxImpactBps
		}
		bps += impact
	}

	bps += s.cfg.SpreadPaddingBps
	bps += uniform(rng, -s.cfg.Slippage.RandomComponentBps, s.cfg.Slippage.RandomComponentBps)
	bps += s.cfg.Slippage.AdverseSelectionBps

	factor := bps / 10000.0
	var price float64
	if side == "buy" {
		price = basePrice * (1 + factor)
	} else {
		price = basePrice * (1 - factor)
	}
	if price < 0 {
		price = 0
	}
	return price
}

// execute decides whether the order fills completely, partially in one
// shot, or as several fills spread over time, per _determine_fill_amount /
// _simulate_partial_fills.
func (s *Simulator) execute(ctx context.Context, rng *rand.Rand, st *orderState, execPrice, amount float64, market domain.Market) {
	if rng.Float64() < s.cfg.FillRatio {
		s.addFill(st, execPrice, amount, market)
		return
	}

	notional := amount * execPrice
	if s.cfg.PartialFill.Enabled && notional > s.cfg.PartialFill.LargeOrderThresholdUSD {
		minFill := amount * s.cfg.PartialFill.MinFillRatio
		total := uniform(rng, minFill, amount)
		s.simulatePartialFills(ctx, rng, st, execPrice, total, market)
		return
	}

	ratio := uniform(rng, 0.7, 0.95)
	s.addFill(st, execPrice, amount*ratio, market)
}

// simulatePartialFills splits total across 2-5 child fills, front-loaded
// (each fill up to 60% of what remains, at least 10%), sleeping between
// fills to model execution spread over time.
func (s *Simulator) simulatePartialFills(ctx context.Context, rng *rand.Rand, st *orderState, basePrice, total float64, market domain.Market) {
	remaining := total
	count := 2 + rng.Intn(4) // 2..5

	for i := 0; i < count; i++ {
		if remaining <= 0 {
			break
		}
		var size float64
		if i == count-1 {
			size = remaining
		} else {
			maxFill := remaining * 0.6
			minFill := remaining * 0.1
			size = uniform(rng, minFill, maxFill)
		}

		variance := uniform(rng, -0.001, 0.001)
		price := basePrice * (1 + variance)
		s.addFill(st, price, size, market)
		remaining -= size

		if i < count-1 {
			delay := time.Duration(uniform(rng, 0.05, 0.2) * float64(time.Second))
			_ = s.clock.Sleep(ctx, delay)
		}
	}
}

func (s *Simulator) addFill(st *orderState, price, amount float64, market domain.Market) {
	feeRate := s.cfg.FeeBps / 10000.0
	fee := amount * price * feeRate
	now := s.clock.Now()

	willBeFilled := st.record.FilledAmount+amount >= st.record.RequestedAmount
	st.fills = append(st.fills, Fill{
		ID: uuid.NewString(), Price: price, Amount: amount, Fee: fee,
		Timestamp: now, Partial: !willBeFilled,
	})

	st.record.FilledAmount += amount
	st.record.RemainingAmount = st.record.RequestedAmount - st.record.FilledAmount
	st.record.UpdatedAt = now

	var totalNotional, totalAmount float64
	for _, f := range st.fills {
		totalNotional += f.Price * f.Amount
		totalAmount += f.Amount
	}
	if totalAmount > 0 {
		st.record.AvgFillPrice = totalNotional / totalAmount
	}

	if st.record.FilledAmount >= st.record.RequestedAmount {
		st.record.State = domain.OrderFilled
	} else {
		st.record.State = domain.OrderPartiallyFilled
	}

	s.applyBalance(market, st.record.Side, price, amount, fee)
}

// applyBalance mirrors the original's _update_balances: a buy adds base,
// subtracts notional+fee from quote; a sell subtracts base, adds
// notional-fee to quote.
func (s *Simulator) applyBalance(market domain.Market, side string, price, amount, fee float64) {
	if market.Base == "" && market.Quote == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == "buy" {
		s.balances[market.Base] += amount
		s.balances[market.Quote] -= amount*price + fee
	} else {
		s.balances[market.Base] -= amount
		s.balances[market.Quote] += amount*price - fee
	}
}

// Balances returns a snapshot of the simulator's current account state.
func (s *Simulator) Balances() map[domain.Currency]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Currency]float64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// Get returns the current state of a previously placed order.
func (s *Simulator) Get(orderID string) (domain.OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return st.record, true
}

// Cancel marks a still-PENDING (resting, unfilled) order CANCELLED.
func (s *Simulator) Cancel(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[orderID]
	if !ok || st.record.State != domain.OrderPending {
		return false
	}
	st.record.State = domain.OrderCancelled
	st.record.UpdatedAt = s.clock.Now()
	return true
}

// Metrics aggregates every order handled by this simulator into the
// ports.ExecutionMetrics side channel.
func (s *Simulator) Metrics() ports.ExecutionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m ports.ExecutionMetrics
	var totalVolume, totalFees float64
	var fillsCount int
	for _, st := range s.orders {
		m.OrdersCreated++
		switch st.record.State {
		case domain.OrderFilled:
			m.OrdersFilled++
		case domain.OrderPartiallyFilled:
			m.OrdersPartial++
		case domain.OrderCancelled:
			m.OrdersCancelled++
		}
		for _, f := range st.fills {
			totalVolume += f.Amount * f.Price
			totalFees += f.Fee
			fillsCount++
		}
	}
	m.TotalVolume = totalVolume
	if totalVolume > 0 {
		m.AvgFeeBps = totalFees / totalVolume * 10000
	}
	m.FinalBalances = make(map[domain.Currency]float64, len(s.balances))
	for k, v := range s.balances {
		m.FinalBalances[k] = v
	}
	if m.OrdersCreated > 0 {
		m.FillsPerOrder = float64(fillsCount) / float64(m.OrdersCreated)
	}
	return m
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
