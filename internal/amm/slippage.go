package amm

import "math/big"

var (
	minTolerance = big.NewRat(1, 10000)  // 0.01%
	maxTolerance = big.NewRat(5, 100)    // 5%
	sizeMultipliers = struct {
		large, small, normal *big.Rat
	}{
		large:  big.NewRat(13, 10), // 1.3x for trades > 5% of reserve_in
		small:  big.NewRat(9, 10),  // 0.9x for trades < 1% of reserve_in
		normal: big.NewRat(1, 1),
	}
	largeThreshold = big.NewRat(5, 100) // 5% of reserve_in
	smallThreshold = big.NewRat(1, 100) // 1% of reserve_in
)

// LegSlippageTolerance computes the dynamic per-leg slippage tolerance:
// impact * adaptive_multiplier, clamped to [0.01%, 5%]. The multiplier is
// 1.3x for trades over 5% of reserve_in, 0.9x for trades under 1%, else 1x.
func LegSlippageTolerance(amountIn, reserveIn, reserveOut *big.Int, fee *big.Rat) (*big.Rat, error) {
	impact, err := PriceImpact(amountIn, reserveIn, reserveOut, fee)
	if err != nil {
		return nil, err
	}

	fraction := new(big.Rat).SetFrac(amountIn, reserveIn)
	var mult *big.Rat
	switch {
	case fraction.Cmp(largeThreshold) > 0:
		mult = sizeMultipliers.large
	case fraction.Cmp(smallThreshold) < 0:
		mult = sizeMultipliers.small
	default:
		mult = sizeMultipliers.normal
	}

	tol := new(big.Rat).Mul(impact, mult)
	return clamp(tol, minTolerance, maxTolerance), nil
}

// TwoLegTolerance adds two leg tolerances as a first-order approximation of
// the combined slippage budget across a two-hop path.
func TwoLegTolerance(a, b *big.Rat) *big.Rat {
	return clamp(new(big.Rat).Add(a, b), minTolerance, new(big.Rat).Mul(maxTolerance, big.NewRat(2, 1)))
}

func clamp(v, lo, hi *big.Rat) *big.Rat {
	if v.Cmp(lo) < 0 {
		return new(big.Rat).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Rat).Set(hi)
	}
	return v
}
