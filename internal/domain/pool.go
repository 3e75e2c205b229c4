package domain

import "math/big"

// Pool is a read-only snapshot of a constant-product AMM pool, used by the
// DEX pool scanner and the Recovery Router. Reserves are arbitrary-precision
// integers (base units, e.g. wei); Fee is an exact rational in [0, 1).
type Pool struct {
	Dex      string
	Kind     string // "v2" constant-product
	Address  string
	Token0   string
	Token1   string
	Reserve0 *big.Int // base-denominated, post-normalization
	Reserve1 *big.Int // quote-denominated, post-normalization
	Fee      *big.Rat
	Base     Currency
	Quote    Currency
}
