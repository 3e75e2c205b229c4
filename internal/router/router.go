package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// Config tunes path discovery, scoring, and panic-sell execution,
// mirroring the original's panic_sell config block field for field.
type Config struct {
	BaseCurrencies         []domain.Currency
	PreferredIntermediaries []domain.Currency

	MaxTotalSlippageBps      float64
	MaxHops                  int
	MinLiquidityUSD          float64
	MaxSingleHopSlippageBps  float64

	MaxPathsToEvaluate int
	LiquidityWeight    float64
	SlippageWeight     float64
	HopPenaltyWeight   float64

	VolatilityThresholdBps float64
	ExtremeSpreadBps       float64

	RetryAttempts        int
	RetryDelay           time.Duration
	PartialFillThreshold float64

	BlacklistDuration time.Duration
}

func defaultConfig(cfg Config) Config {
	if len(cfg.BaseCurrencies) == 0 {
		cfg.BaseCurrencies = []domain.Currency{"USDT", "USDC", "USD"}
	}
	if len(cfg.PreferredIntermediaries) == 0 {
		cfg.PreferredIntermediaries = []domain.Currency{"BTC", "ETH", "BNB"}
	}
	if cfg.MaxTotalSlippageBps <= 0 {
		cfg.MaxTotalSlippageBps = 200
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 4
	}
	if cfg.MinLiquidityUSD <= 0 {
		cfg.MinLiquidityUSD = 1000
	}
	if cfg.MaxSingleHopSlippageBps <= 0 {
		cfg.MaxSingleHopSlippageBps = 100
	}
	if cfg.MaxPathsToEvaluate <= 0 {
		cfg.MaxPathsToEvaluate = 10
	}
	if cfg.LiquidityWeight <= 0 {
		cfg.LiquidityWeight = 0.4
	}
	if cfg.SlippageWeight <= 0 {
		cfg.SlippageWeight = 0.4
	}
	if cfg.HopPenaltyWeight <= 0 {
		cfg.HopPenaltyWeight = 0.2
	}
	if cfg.VolatilityThresholdBps <= 0 {
		cfg.VolatilityThresholdBps = 500
	}
	if cfg.ExtremeSpreadBps <= 0 {
		cfg.ExtremeSpreadBps = 200
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.PartialFillThreshold <= 0 {
		cfg.PartialFillThreshold = 0.95
	}
	if cfg.BlacklistDuration <= 0 {
		cfg.BlacklistDuration = 5 * time.Minute
	}
	return cfg
}

// executionRecord is one entry in the router's rolling execution history,
// used only for get_execution_statistics-equivalent reporting.
type executionRecord struct {
	path      []domain.Currency
	success   bool
	slippage  float64
}

// Router is the Recovery Router (§4.8): it builds a market graph from the
// venue's tradable symbols, finds and scores liquidation paths out of a
// stuck currency, and executes the best one through the Order
// Coordinator. It satisfies internal/engine.Router structurally without
// importing that package.
type Router struct {
	venue       ports.VenueAdapter
	coordinator *coordinator.Coordinator
	cfg         Config
	blacklist   *Blacklist
	logger      *slog.Logger

	history []executionRecord
}

func New(venue ports.VenueAdapter, coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		venue:       venue,
		coordinator: coord,
		cfg:         defaultConfig(cfg),
		blacklist:   NewBlacklist(),
		logger:      logger,
	}
}

// FindLiquidationPaths builds a fresh market graph, enumerates shortest
// paths plus intermediary-anchored paths from `from` to every target
// currency, evaluates and scores each, and returns the survivors sorted
// best-first — the Go equivalent of the original's find_liquidation_paths.
func (r *Router) FindLiquidationPaths(ctx context.Context, from domain.Currency, amount float64, targets []domain.Currency) ([]*LiquidationPath, error) {
	if len(targets) == 0 {
		targets = r.cfg.BaseCurrencies
	}

	markets, err := r.venue.LoadMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading markets for recovery graph: %w", err)
	}
	graph := BuildGraph(markets)

	for _, t := range targets {
		if from == t {
			return []*LiquidationPath{{Path: []domain.Currency{from}, EstimatedOutput: amount, ConfidenceScore: 1.0}}, nil
		}
	}

	var candidates [][]domain.Currency
	for _, target := range targets {
		if !graph.Has(target) {
			continue
		}
		all := graph.AllShortestPaths(from, target, r.cfg.MaxHops)
		if len(all) > r.cfg.MaxPathsToEvaluate {
			all = all[:r.cfg.MaxPathsToEvaluate]
		}
		candidates = append(candidates, all...)

		for _, inter := range r.cfg.PreferredIntermediaries {
			if !graph.Has(inter) || inter == from {
				continue
			}
			if combined, ok := graph.IntermediaryPath(from, inter, target, r.cfg.MaxHops); ok {
				candidates = append(candidates, combined)
			}
		}
	}

	var paths []*LiquidationPath
	for _, c := range candidates {
		if len(c)-1 > r.cfg.MaxHops {
			continue
		}
		if r.pathBlacklisted(graph, c) {
			continue
		}
		p, ok := EvaluatePath(ctx, r.venue, graph, c, amount, r.cfg)
		if ok {
			paths = append(paths, p)
		}
	}

	sort.Slice(paths, func(i, j int) bool {
		return ScorePath(paths[i], r.cfg) > ScorePath(paths[j], r.cfg)
	})
	if len(paths) > r.cfg.MaxPathsToEvaluate {
		paths = paths[:r.cfg.MaxPathsToEvaluate]
	}
	return paths, nil
}

func (r *Router) pathBlacklisted(graph *Graph, path []domain.Currency) bool {
	now := time.Now()
	for i := 0; i < len(path)-1; i++ {
		edge, ok := graph.EdgeBetween(path[i], path[i+1])
		if !ok {
			continue
		}
		if r.blacklist.Active(edge.Symbol, now) {
			return true
		}
	}
	return false
}

// Liquidate implements internal/engine.Router: it is the entry point the
// Cycle Execution Engine calls when a cycle enters PANIC_SELLING.
// Equivalent to the original's execute_panic_sell.
func (r *Router) Liquidate(ctx context.Context, currency domain.Currency, amount float64) (float64, domain.Currency, bool) {
	for _, base := range r.cfg.BaseCurrencies {
		if currency == base {
			return amount, currency, true
		}
	}

	cfg := r.cfg
	conditions := AnalyzeConditions(ctx, r.venue, BuildGraph(mustMarkets(ctx, r.venue)), append([]domain.Currency{currency}, r.cfg.BaseCurrencies...), cfg, r.logger)
	if conditions[currency].IsStressed() {
		r.logger.Warn("volatile market detected, relaxing single-hop slippage cap", "currency", currency)
		cfg.MaxSingleHopSlippageBps *= 1.5
	}

	currentAmount, currentCcy := amount, currency
	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		paths, err := r.findLiquidationPathsWithConfig(ctx, currentCcy, currentAmount, nil, cfg)
		if err != nil || len(paths) == 0 {
			r.logger.Error("no liquidation path found", "currency", currentCcy, "error", err)
			return currentAmount, currentCcy, false
		}

		path := paths[0]
		r.logger.Info("attempting liquidation path", "path", path.Path, "estimated_slippage_bps", path.EstimatedSlippage)

		finalAmount, finalCcy, ok := r.executePath(ctx, path, currentAmount)
		r.history = append(r.history, executionRecord{path: path.Path, success: ok, slippage: actualSlippageBps(currentAmount, finalAmount)})
		if ok {
			return finalAmount, finalCcy, true
		}

		// Resume from wherever partial execution left us rather than
		// retrying the original amount from scratch — a deliberate
		// departure from the original, which re-tries with the pre-attempt
		// amount even after a partial conversion; see DESIGN.md.
		currentAmount, currentCcy = finalAmount, finalCcy
		if attempt < cfg.RetryAttempts-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}

	r.logger.Error("all liquidation paths failed", "currency", currency)
	return currentAmount, currentCcy, false
}

func (r *Router) findLiquidationPathsWithConfig(ctx context.Context, from domain.Currency, amount float64, targets []domain.Currency, cfg Config) ([]*LiquidationPath, error) {
	saved := r.cfg
	r.cfg = cfg
	defer func() { r.cfg = saved }()
	return r.FindLiquidationPaths(ctx, from, amount, targets)
}

func mustMarkets(ctx context.Context, venue ports.VenueAdapter) map[string]domain.Market {
	markets, err := venue.LoadMarkets(ctx)
	if err != nil {
		return nil
	}
	return markets
}

func actualSlippageBps(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return absF(initial-final) / initial * 10000
}

// executePath drives one path's orders through the Order Coordinator,
// hop by hop, stopping at the first failed or unacceptably-partial fill
// and blacklisting the offending market — equivalent to the original's
// execute_path plus its partial-fill and failure handling.
func (r *Router) executePath(ctx context.Context, path *LiquidationPath, initialAmount float64) (float64, domain.Currency, bool) {
	currentAmount := initialAmount
	currentCcy := path.Path[0]

	for _, edge := range path.Edges {
		placed, err := r.coordinator.PlaceOrder(ctx, edge.Symbol, edge.Side, currentAmount, nil)
		if err != nil {
			r.logger.Error("recovery order placement failed", "symbol", edge.Symbol, "side", edge.Side, "error", err)
			r.blacklist.Add(edge.Symbol, r.cfg.BlacklistDuration, time.Now())
			return currentAmount, currentCcy, false
		}

		filled, err := r.coordinator.MonitorOrder(ctx, placed, r.cfg.RetryDelay*10)
		if err != nil {
			r.logger.Error("recovery order monitoring failed", "symbol", edge.Symbol, "error", err)
			return currentAmount, currentCcy, false
		}

		if filled.State == domain.OrderFailed || filled.FilledAmount <= 0 {
			r.blacklist.Add(edge.Symbol, r.cfg.BlacklistDuration, time.Now())
			return currentAmount, currentCcy, false
		}

		fillRatio := filled.FilledAmount / currentAmount
		if fillRatio < r.cfg.PartialFillThreshold {
			r.logger.Warn("insufficient fill during recovery", "symbol", edge.Symbol, "fill_ratio", fillRatio)
			return currentAmount, currentCcy, false
		}

		switch edge.Side {
		case "buy":
			currentAmount = filled.FilledAmount
		default:
			currentAmount = filled.FilledAmount * filled.AvgFillPrice
		}
		currentCcy = edge.To
	}

	return currentAmount, currentCcy, true
}

// Stats mirrors the original's get_execution_statistics for operator
// visibility into recent recovery attempts.
type Stats struct {
	TotalExecutions int
	Successful      int
	Failed          int
	SuccessRatePct  float64
	AverageSlippage float64
	Blacklisted     []string
}

func (r *Router) Stats() Stats {
	if len(r.history) == 0 {
		return Stats{Blacklisted: r.blacklist.Snapshot(time.Now())}
	}
	var successful, failed int
	var slippageSum float64
	for _, e := range r.history {
		if e.success {
			successful++
			slippageSum += e.slippage
		} else {
			failed++
		}
	}
	avg := 0.0
	if successful > 0 {
		avg = slippageSum / float64(successful)
	}
	return Stats{
		TotalExecutions: len(r.history),
		Successful:      successful,
		Failed:          failed,
		SuccessRatePct:  float64(successful) / float64(len(r.history)) * 100,
		AverageSlippage: avg,
		Blacklisted:     r.blacklist.Snapshot(time.Now()),
	}
}
