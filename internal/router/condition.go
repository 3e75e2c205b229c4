package router

import (
	"context"
	"log/slog"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// MarketCondition classifies the current trading conditions for a
// currency, grounded on the original's MarketCondition enum and
// analyze_market_conditions heuristic.
type MarketCondition string

const (
	ConditionStable   MarketCondition = "stable"
	ConditionVolatile MarketCondition = "volatile"
	ConditionIlliquid MarketCondition = "illiquid"
	ConditionExtreme  MarketCondition = "extreme"
)

// conditionDepthLevels is how many order-book levels feed the liquidity score,
// and conditionMarketSample caps how many adjacent markets are sampled
// per currency — both match the original's hardcoded top-3/top-5 limits.
const (
	conditionMarketSample = 3
	conditionDepthLevels  = 5
)

// AnalyzeConditions classifies each currency in currencies by sampling a
// handful of its adjacent markets for spread (a stand-in for the
// original's 24h percentage-change volatility signal, which this venue
// port does not expose — see DESIGN.md) and order-book depth. A venue
// error for one currency degrades to ConditionVolatile rather than
// failing the whole batch, matching the original's fail-open behavior.
func AnalyzeConditions(ctx context.Context, venue ports.VenueAdapter, graph *Graph, currencies []domain.Currency, cfg Config, logger *slog.Logger) map[domain.Currency]MarketCondition {
	out := make(map[domain.Currency]MarketCondition, len(currencies))
	for _, cur := range currencies {
		cond, err := analyzeOne(ctx, venue, graph, cur, cfg)
		if err != nil {
			logger.Warn("could not analyze market condition, assuming volatile", "currency", cur, "error", err)
			out[cur] = ConditionVolatile
			continue
		}
		out[cur] = cond
	}
	return out
}

func analyzeOne(ctx context.Context, venue ports.VenueAdapter, graph *Graph, cur domain.Currency, cfg Config) (MarketCondition, error) {
	edges := graph.Neighbors(cur)
	if len(edges) > conditionMarketSample {
		edges = edges[:conditionMarketSample]
	}

	var spreadSum, liquiditySum float64
	var n int
	for _, e := range edges {
		ticker, err := venue.FetchTicker(ctx, e.Symbol)
		if err != nil {
			return "", err
		}
		book, err := venue.FetchOrderBook(ctx, e.Symbol)
		if err != nil {
			return "", err
		}

		if ticker.Bid > 0 && ticker.Ask > 0 {
			mid := (ticker.Bid + ticker.Ask) / 2
			spreadSum += (ticker.Ask - ticker.Bid) / mid * 10000
		}

		bidLiquidity := notionalDepth(book.Bids, conditionDepthLevels)
		askLiquidity := notionalDepth(book.Asks, conditionDepthLevels)
		liquiditySum += minF(bidLiquidity, askLiquidity)
		n++
	}

	if n == 0 {
		return ConditionStable, nil
	}
	avgSpreadBps := spreadSum / float64(n)
	avgLiquidity := liquiditySum / float64(n)

	switch {
	case avgSpreadBps > cfg.ExtremeSpreadBps:
		return ConditionExtreme, nil
	case avgSpreadBps > cfg.VolatilityThresholdBps:
		return ConditionVolatile, nil
	case avgLiquidity < cfg.MinLiquidityUSD:
		return ConditionIlliquid, nil
	default:
		return ConditionStable, nil
	}
}

func notionalDepth(entries []domain.BookEntry, levels int) float64 {
	if levels > len(entries) {
		levels = len(entries)
	}
	var sum float64
	for _, e := range entries[:levels] {
		sum += e.Price * e.Size
	}
	return sum
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// IsStressed reports whether a condition warrants the 50% slippage-cap
// relaxation applied by Liquidate (§4.8).
func (c MarketCondition) IsStressed() bool {
	return c == ConditionVolatile || c == ConditionExtreme
}
