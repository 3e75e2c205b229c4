package router

import (
	"context"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// LiquidationPath is a fully evaluated candidate route for converting
// holdings from one currency to a target, grounded on the original's
// LiquidationPath dataclass.
type LiquidationPath struct {
	Path               []domain.Currency
	Edges              []Edge
	EstimatedSlippage  float64 // total, basis points
	EstimatedOutput    float64
	ConfidenceScore    float64
	TotalFeesBps       float64
	ExecutionTimeMs    float64
	RiskScore          float64
}

// EvaluatePath walks a candidate currency path hop by hop, estimating
// per-hop slippage from live order-book depth via domain.VWAP and
// rejecting the path outright if any hop exceeds maxSingleHopSlippageBps
// — the same early-exit the original's evaluate_path performs.
func EvaluatePath(ctx context.Context, venue ports.VenueAdapter, graph *Graph, path []domain.Currency, initialAmount float64, cfg Config) (*LiquidationPath, bool) {
	if len(path) < 2 {
		return nil, false
	}

	var edges []Edge
	currentAmount := initialAmount
	var totalSlippage, totalFees, confidence float64 = 0, 0, 1.0
	var executionTime float64

	for i := 0; i < len(path)-1; i++ {
		edge, ok := graph.EdgeBetween(path[i], path[i+1])
		if !ok {
			return nil, false
		}

		slippageBps, ok := estimateSlippage(ctx, venue, edge, currentAmount)
		if !ok || slippageBps > cfg.MaxSingleHopSlippageBps {
			return nil, false
		}

		feeBps := edge.Market.TakerFeeRate * 10000
		effective := slippageBps + feeBps
		outputAmount := currentAmount * (1 - effective/10000)

		edge.LiquidityScore = 1.0 / (1 + slippageBps/100)
		edges = append(edges, edge)

		currentAmount = outputAmount
		totalSlippage += slippageBps
		totalFees += feeBps
		confidence *= 0.95
		executionTime += 1000
	}

	risk := calculateRiskScore(len(path)-1, totalSlippage, confidence, cfg)
	return &LiquidationPath{
		Path: path, Edges: edges, EstimatedSlippage: totalSlippage,
		EstimatedOutput: currentAmount, ConfidenceScore: confidence,
		TotalFeesBps: totalFees, ExecutionTimeMs: executionTime, RiskScore: risk,
	}, true
}

// estimateSlippage computes the expected basis-point slippage of trading
// amount on edge's symbol against the book side the trade consumes (asks
// for a buy, bids for a sell), using domain.VWAP — the Go-native
// replacement for the original's hand-rolled weighted-average loop.
func estimateSlippage(ctx context.Context, venue ports.VenueAdapter, edge Edge, amount float64) (bps float64, ok bool) {
	book, err := venue.FetchOrderBook(ctx, edge.Symbol)
	if err != nil {
		return 0, false
	}

	var levels []domain.BookEntry
	if edge.Side == "buy" {
		levels = book.Asks
	} else {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 999999, true // no liquidity, matches the original's sentinel
	}

	avgPx, filled := domain.VWAP(levels, amount)
	if filled < amount {
		return 999999, true // insufficient depth to fill the full amount
	}

	best := levels[0].Price
	if best <= 0 {
		return 999999, true
	}
	return absF(avgPx-best) / best * 10000, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ScorePath ranks a path by a weighted blend of slippage headroom,
// confidence (as a liquidity proxy), hop count, and risk — the exact
// weighted-sum formula from the original's score_path.
func ScorePath(p *LiquidationPath, cfg Config) float64 {
	slippageScore := maxF(0, 1-p.EstimatedSlippage/cfg.MaxTotalSlippageBps)
	liquidityScore := p.ConfidenceScore
	hopScore := maxF(0, 1-float64(len(p.Path)-1)/float64(cfg.MaxHops))
	riskScore := 1 - p.RiskScore

	remaining := 1 - cfg.SlippageWeight - cfg.LiquidityWeight - cfg.HopPenaltyWeight
	return cfg.SlippageWeight*slippageScore +
		cfg.LiquidityWeight*liquidityScore +
		cfg.HopPenaltyWeight*hopScore +
		remaining*riskScore
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// calculateRiskScore blends hop count, slippage, and confidence into one
// 0..1 risk figure (higher is riskier), matching the original's
// calculate_risk_score weights (0.3/0.5/0.2).
func calculateRiskScore(hops int, slippageBps, confidence float64, cfg Config) float64 {
	hopRisk := float64(hops) / float64(cfg.MaxHops)
	slippageRisk := slippageBps / cfg.MaxTotalSlippageBps
	confidenceRisk := 1 - confidence
	risk := hopRisk*0.3 + slippageRisk*0.5 + confidenceRisk*0.2
	if risk > 1.0 {
		return 1.0
	}
	return risk
}
