package risk

import "math"

// SlippageMeasurement is one leg's observed vs expected execution price.
type SlippageMeasurement struct {
	LegIndex     int
	MarketSymbol string
	Side         string // "buy" | "sell"
	ExpectedPx   float64
	ExecutedPx   float64
	SlippageBps  float64
}

// SlippageTracker converts buy/sell fill prices into signed slippage in
// basis points and flags legs that exceed the configured cap.
type SlippageTracker struct {
	MaxLegSlippageBps float64
	Measurements      []SlippageMeasurement
}

func NewSlippageTracker(maxLegSlippageBps float64) *SlippageTracker {
	return &SlippageTracker{MaxLegSlippageBps: maxLegSlippageBps}
}

// Record computes slippage for one leg. For a buy, paying more than
// expected is adverse (positive bps); for a sell, receiving less than
// expected is adverse.
func (t *SlippageTracker) Record(legIndex int, symbol, side string, expectedPx, executedPx float64) SlippageMeasurement {
	if expectedPx == 0 {
		expectedPx = math.SmallestNonzeroFloat64
	}
	var bps float64
	switch side {
	case "sell":
		bps = (expectedPx - executedPx) / expectedPx * 10000
	default: // "buy"
		bps = (executedPx - expectedPx) / expectedPx * 10000
	}
	meas := SlippageMeasurement{
		LegIndex: legIndex, MarketSymbol: symbol, Side: side,
		ExpectedPx: expectedPx, ExecutedPx: executedPx, SlippageBps: bps,
	}
	t.Measurements = append(t.Measurements, meas)
	return meas
}

// CheckViolation reports whether adverse slippage exceeded the cap.
// Favorable slippage (negative bps) never violates.
func (t *SlippageTracker) CheckViolation(meas SlippageMeasurement) bool {
	return meas.SlippageBps > t.MaxLegSlippageBps
}

func (t *SlippageTracker) Reset() {
	t.Measurements = t.Measurements[:0]
}

// CumulativeBps sums signed slippage across all recorded legs. No
// cycle-level slippage cap is enforced; the Controller checks legs only.
func (t *SlippageTracker) CumulativeBps() float64 {
	var sum float64
	for _, m := range t.Measurements {
		sum += m.SlippageBps
	}
	return sum
}
