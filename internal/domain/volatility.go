package domain

import "math"

// VolatilityWindow is a fixed-size circular buffer of recent realized
// net-profit percentages. It keeps running sums so the update is O(1),
// per the redesign flag calling for running sums over μ and σ² instead of
// recomputing from the full window on every observation.
type VolatilityWindow struct {
	size   int
	buf    []float64
	head   int
	count  int
	sum    float64
	sumSq  float64
}

func NewVolatilityWindow(size int) *VolatilityWindow {
	return &VolatilityWindow{size: size, buf: make([]float64, size)}
}

// Add records a new observation, evicting the oldest once the window is at
// capacity.
func (w *VolatilityWindow) Add(netPct float64) {
	if w.count < w.size {
		w.buf[w.head] = netPct
		w.sum += netPct
		w.sumSq += netPct * netPct
		w.head = (w.head + 1) % w.size
		w.count++
		return
	}
	oldest := w.buf[w.head]
	w.sum += netPct - oldest
	w.sumSq += netPct*netPct - oldest*oldest
	w.buf[w.head] = netPct
	w.head = (w.head + 1) % w.size
}

// Count returns the number of observations currently stored.
func (w *VolatilityWindow) Count() int { return w.count }

// IsReady reports whether the window is fully populated: the first
// size-1 observations are not ready, the size-th one is.
func (w *VolatilityWindow) IsReady() bool { return w.count >= w.size }

// Mean returns the population mean, or (0, false) with fewer than 2
// observations.
func (w *VolatilityWindow) Mean() (float64, bool) {
	if w.count < 2 {
		return 0, false
	}
	return w.sum / float64(w.count), true
}

// Sigma returns the population standard deviation, or (0, false) with
// fewer than 2 observations.
func (w *VolatilityWindow) Sigma() (float64, bool) {
	if w.count < 2 {
		return 0, false
	}
	n := float64(w.count)
	mean := w.sum / n
	variance := w.sumSq/n - mean*mean
	if variance < 0 {
		variance = 0 // guards against floating-point drift in the running sums
	}
	return math.Sqrt(variance), true
}

// DynamicThreshold returns mean + sigmaMultiplier*sigma, or (0, false) if
// insufficient data has accumulated.
func (w *VolatilityWindow) DynamicThreshold(sigmaMultiplier float64) (float64, bool) {
	mean, ok := w.Mean()
	if !ok {
		return 0, false
	}
	sigma, ok := w.Sigma()
	if !ok {
		return 0, false
	}
	return mean + sigmaMultiplier*sigma, true
}
