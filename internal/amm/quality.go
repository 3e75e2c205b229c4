package amm

import (
	"fmt"
	"math"
	"math/big"

	"github.com/evanward/triarb/internal/domain"
)

// QualityScore is the 0-100 breakdown used to filter pools out of routing.
type QualityScore struct {
	Total     float64
	Liquidity float64 // 0-40
	Fee       float64 // 0-20
	Balance   float64 // 0-20
	Stability float64 // 0-20
	Details   string
}

// Quality scores a pool out of 100: liquidity depth, fee competitiveness,
// reserve balance, and reserve-ratio stability. usdPriceEstimate converts
// the base-token reserve into an approximate USD liquidity figure; this is
// a filter/ranking heuristic, not hot-path swap math, so it runs in
// float64 deliberately (see DESIGN.md).
func Quality(p domain.Pool, usdPriceEstimate float64) QualityScore {
	r0 := bigToFloat(p.Reserve0)
	r1 := bigToFloat(p.Reserve1)

	minReserve := math.Min(r0, r1)
	liquidityUSD := minReserve * usdPriceEstimate * 2

	var liquidity float64
	switch {
	case liquidityUSD >= 1_000_000:
		liquidity = 40
	case liquidityUSD >= 500_000:
		liquidity = 35
	case liquidityUSD >= 100_000:
		liquidity = 30
	case liquidityUSD >= 50_000:
		liquidity = 25
	case liquidityUSD >= 10_000:
		liquidity = 20
	default:
		liquidity = 10
	}

	feeF, _ := p.Fee.Float64()
	feeBps := feeF * 10000
	var fee float64
	switch {
	case feeBps <= 10:
		fee = 20
	case feeBps <= 20:
		fee = 18
	case feeBps <= 30:
		fee = 15
	case feeBps <= 50:
		fee = 10
	default:
		fee = 5
	}

	var balance, stability float64
	if r0 > 0 && r1 > 0 {
		ratio := r0 / r1
		balance = (1.0 / (1.0 + math.Abs(math.Log10(ratio)))) * 20.0

		maxRatio := math.Max(ratio, r1/r0)
		switch {
		case maxRatio < 10:
			stability = 20
		case maxRatio < 50:
			stability = 15
		case maxRatio < 100:
			stability = 10
		case maxRatio < 1000:
			stability = 5
		default:
			stability = 0
		}
	}

	total := liquidity + fee + balance + stability
	return QualityScore{
		Total:     total,
		Liquidity: liquidity,
		Fee:       fee,
		Balance:   balance,
		Stability: stability,
		Details: fmt.Sprintf("liquidity=%.0f/40 ($%.0f) fee=%.0f/20 (%.2fbps) balance=%.0f/20 stability=%.0f/20",
			liquidity, liquidityUSD, fee, feeBps, balance, stability),
	}
}

func bigToFloat(i *big.Int) float64 {
	f := new(big.Float).SetInt(i)
	v, _ := f.Float64()
	return v
}
