// Package risk implements the Risk Controller (§4.4): per-leg latency and
// slippage enforcement, a persistent per-cycle cooldown registry, and
// violation journaling with duplicate suppression.
package risk

import "time"

// LatencyMeasurement is one leg's observed placement-to-resolution latency.
type LatencyMeasurement struct {
	LegIndex     int
	MarketSymbol string
	Start        time.Time
	End          time.Time
	LatencyMS    float64
	Side         string
}

// LatencyMonitor tracks per-leg latency and flags violations against a
// configured maximum.
type LatencyMonitor struct {
	MaxLegLatencyMS float64
	Measurements    []LatencyMeasurement
}

func NewLatencyMonitor(maxLegLatencyMS float64) *LatencyMonitor {
	return &LatencyMonitor{MaxLegLatencyMS: maxLegLatencyMS}
}

// StartMeasurement captures the timer start before an order is placed.
func (m *LatencyMonitor) StartMeasurement() time.Time {
	return time.Now()
}

// EndMeasurement captures the timer end once the order resolves.
func (m *LatencyMonitor) EndMeasurement(legIndex int, symbol string, start time.Time, side string) LatencyMeasurement {
	end := time.Now()
	meas := LatencyMeasurement{
		LegIndex:     legIndex,
		MarketSymbol: symbol,
		Start:        start,
		End:          end,
		LatencyMS:    float64(end.Sub(start).Microseconds()) / 1000.0,
		Side:         side,
	}
	m.Measurements = append(m.Measurements, meas)
	return meas
}

// CheckViolation reports whether the measured latency exceeds the maximum.
func (m *LatencyMonitor) CheckViolation(meas LatencyMeasurement) bool {
	return meas.LatencyMS > m.MaxLegLatencyMS
}

func (m *LatencyMonitor) Reset() {
	m.Measurements = m.Measurements[:0]
}
