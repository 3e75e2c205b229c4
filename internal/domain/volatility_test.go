package domain

import (
	"math"
	"testing"
)

func TestVolatilityWindowBoundary(t *testing.T) {
	w := NewVolatilityWindow(3)
	for i := 0; i < 2; i++ {
		w.Add(float64(i))
		if w.IsReady() {
			t.Fatalf("window should not be ready before capacity, count=%d", w.Count())
		}
	}
	w.Add(2)
	if !w.IsReady() {
		t.Fatalf("window should be ready at capacity")
	}
	if w.Count() != 3 {
		t.Fatalf("expected count 3, got %d", w.Count())
	}
	mean, ok := w.Mean()
	if !ok || mean != 1 {
		t.Fatalf("expected mean 1, got %v ok=%v", mean, ok)
	}
	// Evict the oldest (0) by adding a 4th observation.
	w.Add(3)
	mean, _ = w.Mean()
	if mean != 2 {
		t.Fatalf("expected mean 2 after eviction, got %v", mean)
	}
}

func TestCycleRecordInvariants(t *testing.T) {
	c := NewCycleRecord("c1", "strat", Cycle{"BTC", "ETH", "USDT"}, 1.0)
	c.CurrentCcy = "ETH"
	if err := c.Complete(); err != ErrWrongEndCurrency {
		t.Fatalf("expected ErrWrongEndCurrency, got %v", err)
	}
	c.CurrentCcy = "BTC"
	c.CurrentAmount = 1.02
	if err := c.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.State != CycleCompleted {
		t.Fatalf("expected COMPLETED, got %v", c.State)
	}
	// 1.02 - 1.0 is not exactly 0.02 in float64, so compare within 1e-9.
	if c.RealizedPnL == nil || math.Abs(*c.RealizedPnL-0.02) > 1e-9 {
		t.Fatalf("expected pnl 0.02, got %v", c.RealizedPnL)
	}
}
