package domain

import "strings"

// Currency is a short uppercase alphabetic asset code, e.g. "BTC", "USDT".
type Currency string

// Normalize upper-cases and trims a raw currency code read from config or a
// venue response.
func Normalize(code string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(code)))
}

// Cycle is the ordered triple of currencies A -> B -> C -> A a strategy
// trades. It carries no execution state; CycleRecord owns that.
type Cycle [3]Currency

// Legs returns the cycle's three (source, target) currency pairs, in leg
// order, without committing to base/quote orientation — the engine
// resolves the actual traded symbol per leg against the venue's market set.
func (c Cycle) Legs() [3][2]Currency {
	return [3][2]Currency{
		{c[0], c[1]},
		{c[1], c[2]},
		{c[2], c[0]},
	}
}

func (c Cycle) String() string {
	return string(c[0]) + "->" + string(c[1]) + "->" + string(c[2]) + "->" + string(c[0])
}

// Key returns the canonical cooldown-registry key for this cycle: the three
// currencies joined by "->", per spec.
func (c Cycle) Key() string {
	return string(c[0]) + "->" + string(c[1]) + "->" + string(c[2])
}
