// Package amm implements constant-product AMM pool math on
// arbitrary-precision rationals (never floats on the hot path, per the
// specification's explicit redesign flag).
package amm

import (
	"errors"
	"math/big"
)

var (
	ErrNonPositiveAmount = errors.New("amm: amount_in must be > 0")
	ErrNonPositiveReserve = errors.New("amm: reserves must be > 0")
	ErrInvalidFee        = errors.New("amm: fee must satisfy 0 <= fee < 1")
)

// SwapOut computes the constant-product output amount for a swap with an
// input-side fee:
//
//	in_eff = amount_in * (1 - fee)
//	amount_out = (in_eff * reserve_out) / (reserve_in + in_eff)
func SwapOut(amountIn, reserveIn, reserveOut *big.Int, fee *big.Rat) (*big.Rat, error) {
	if amountIn.Sign() <= 0 {
		return nil, ErrNonPositiveAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrNonPositiveReserve
	}
	if fee.Sign() < 0 || fee.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, ErrInvalidFee
	}

	one := big.NewRat(1, 1)
	oneMinusFee := new(big.Rat).Sub(one, fee)
	inEff := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), oneMinusFee)

	reserveInR := new(big.Rat).SetInt(reserveIn)
	reserveOutR := new(big.Rat).SetInt(reserveOut)

	numerator := new(big.Rat).Mul(inEff, reserveOutR)
	denominator := new(big.Rat).Add(reserveInR, inEff)

	return new(big.Rat).Quo(numerator, denominator), nil
}

// PriceImpact computes, for the same swap, the fractional deviation of the
// realized output from the no-impact (marginal) price, clamped to [0, 1]:
//
//	impact = 1 - amount_out / (in_eff * reserve_out / reserve_in)
func PriceImpact(amountIn, reserveIn, reserveOut *big.Int, fee *big.Rat) (*big.Rat, error) {
	amountOut, err := SwapOut(amountIn, reserveIn, reserveOut, fee)
	if err != nil {
		return nil, err
	}

	one := big.NewRat(1, 1)
	oneMinusFee := new(big.Rat).Sub(one, fee)
	inEff := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), oneMinusFee)
	reserveInR := new(big.Rat).SetInt(reserveIn)
	reserveOutR := new(big.Rat).SetInt(reserveOut)

	noImpactOut := new(big.Rat).Quo(new(big.Rat).Mul(inEff, reserveOutR), reserveInR)
	if noImpactOut.Sign() == 0 {
		return big.NewRat(0, 1), nil
	}

	ratio := new(big.Rat).Quo(amountOut, noImpactOut)
	impact := new(big.Rat).Sub(one, ratio)

	zero := big.NewRat(0, 1)
	if impact.Cmp(zero) < 0 {
		return zero, nil
	}
	if impact.Cmp(one) > 0 {
		return one, nil
	}
	return impact, nil
}

// MaxTradeSizeForSlippageCap finds, by binary search over
// [0, reserveIn/2], the largest amountIn whose PriceImpact does not exceed
// capBps (expressed in basis points, e.g. 100 = 1%). iterations bounds the
// search depth; 64 is more than enough precision for integer reserves.
func MaxTradeSizeForSlippageCap(reserveIn, reserveOut *big.Int, fee *big.Rat, capBps int64, iterations int) *big.Int {
	lo := big.NewInt(0)
	hi := new(big.Int).Div(reserveIn, big.NewInt(2))
	capRat := new(big.Rat).SetFrac(big.NewInt(capBps), big.NewInt(10000))

	best := big.NewInt(0)
	for i := 0; i < iterations; i++ {
		mid := new(big.Int).Add(lo, hi)
		mid.Div(mid, big.NewInt(2))
		if mid.Sign() <= 0 {
			lo = new(big.Int).Add(mid, big.NewInt(1))
			continue
		}
		impact, err := PriceImpact(mid, reserveIn, reserveOut, fee)
		if err != nil {
			hi = new(big.Int).Sub(mid, big.NewInt(1))
			continue
		}
		if impact.Cmp(capRat) <= 0 {
			best = mid
			lo = new(big.Int).Add(mid, big.NewInt(1))
		} else {
			hi = new(big.Int).Sub(mid, big.NewInt(1))
		}
		if lo.Cmp(hi) > 0 {
			break
		}
	}
	return best
}
