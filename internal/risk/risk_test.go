package risk

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestController(t *testing.T) (*Controller, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		MaxLegLatencyMS:   500,
		MaxLegSlippageBps: 20,
		CooldownSeconds:   5,
		CooldownPath:      filepath.Join(dir, "cooldowns.json"),
		ViolationLogPath:  filepath.Join(dir, "violations.jsonl"),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := NewController(cfg, logger)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, dir
}

func TestSlippageSignConvention(t *testing.T) {
	tr := NewSlippageTracker(20)

	// Buy: paying MORE than expected is adverse (positive bps).
	buy := tr.Record(0, "ETH/USDT", "buy", 100.0, 101.0)
	if buy.SlippageBps <= 0 {
		t.Fatalf("expected positive bps for adverse buy, got %v", buy.SlippageBps)
	}

	// Sell: receiving LESS than expected is adverse (positive bps).
	sell := tr.Record(1, "ETH/USDT", "sell", 100.0, 99.0)
	if sell.SlippageBps <= 0 {
		t.Fatalf("expected positive bps for adverse sell, got %v", sell.SlippageBps)
	}

	// Favorable fills never violate even past the cap's magnitude.
	favorable := tr.Record(2, "ETH/USDT", "buy", 100.0, 50.0)
	if tr.CheckViolation(favorable) {
		t.Fatalf("favorable slippage must never violate")
	}
}

func TestLatencyViolationDoesNotEnterCooldown(t *testing.T) {
	c, _ := newTestController(t)
	now := time.Now()

	meas := LatencyMeasurement{LegIndex: 0, MarketSymbol: "BTC/USDT", LatencyMS: 900, Side: "buy"}
	violated, err := c.RecordLatency("cyc-1", "BTC-ETH-USDT", meas, now)
	if err != nil {
		t.Fatalf("RecordLatency: %v", err)
	}
	if !violated {
		t.Fatalf("expected RecordLatency to report a violation")
	}

	// §4.7 step 5: latency violations fail the leg but do not register a
	// cooldown — only slippage violations do.
	blocked, _ := c.PreTradeCheck("BTC-ETH-USDT", now)
	if blocked {
		t.Fatalf("latency violation must not enter cooldown")
	}
}

func TestSlippageViolationEntersCooldown(t *testing.T) {
	c, _ := newTestController(t)
	now := time.Now()

	meas := SlippageMeasurement{LegIndex: 0, MarketSymbol: "BTC/USDT", Side: "buy", SlippageBps: 50}
	violated, err := c.RecordSlippage("cyc-1", "BTC-ETH-USDT", meas, now)
	if err != nil {
		t.Fatalf("RecordSlippage: %v", err)
	}
	if !violated {
		t.Fatalf("expected RecordSlippage to report a violation")
	}

	blocked, remaining := c.PreTradeCheck("BTC-ETH-USDT", now)
	if !blocked {
		t.Fatalf("expected cooldown to be active after slippage violation")
	}
	if remaining <= 0 {
		t.Fatalf("expected positive remaining cooldown, got %v", remaining)
	}
}

func TestControllerDuplicateViolationsSuppressed(t *testing.T) {
	c, _ := newTestController(t)
	now := time.Now()
	meas := SlippageMeasurement{LegIndex: 0, MarketSymbol: "ETH/USDT", Side: "buy", SlippageBps: 50}

	for i := 0; i < 3; i++ {
		if _, err := c.RecordSlippage("cyc-2", "ETH-BTC-USDT", meas, now); err != nil {
			t.Fatalf("RecordSlippage: %v", err)
		}
	}

	stats := c.Stats()
	if stats.TotalViolations != 3 {
		t.Fatalf("expected 3 total violations, got %d", stats.TotalViolations)
	}
	if stats.UniqueViolations != 1 {
		t.Fatalf("expected 1 unique violation, got %d", stats.UniqueViolations)
	}
	if stats.Suppressed != 2 {
		t.Fatalf("expected 2 suppressed, got %d", stats.Suppressed)
	}

	c.EndCycle("cyc-2")
	if _, err := c.RecordSlippage("cyc-2", "ETH-BTC-USDT", meas, now); err != nil {
		t.Fatalf("RecordSlippage after EndCycle: %v", err)
	}
	if c.Stats().UniqueViolations != 2 {
		t.Fatalf("expected a fresh unique violation after EndCycle, got %+v", c.Stats())
	}
}

func TestCooldownRegistryPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cooldowns.json")

	r1 := NewCooldownRegistry(path)
	now := time.Now()
	if err := r1.Enter("A-B-C", now); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	r2 := NewCooldownRegistry(path)
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, active := r2.Active("A-B-C", now, 60)
	if !active {
		t.Fatalf("expected cooldown to survive reload from disk")
	}
}

func TestSuppressionSummaryReportsTopOffenders(t *testing.T) {
	c, _ := newTestController(t)
	now := time.Now()
	meas := SlippageMeasurement{LegIndex: 0, MarketSymbol: "ETH/USDT", Side: "buy", SlippageBps: 50}

	for i := 0; i < 4; i++ {
		if _, err := c.RecordSlippage("cyc-3", "ETH-BTC-USDT", meas, now); err != nil {
			t.Fatalf("RecordSlippage: %v", err)
		}
	}

	summary := c.SuppressionSummary(time.Hour)
	if summary.TotalSuppressed != 3 {
		t.Fatalf("expected 3 suppressed, got %d", summary.TotalSuppressed)
	}
	if summary.UniquePairs != 1 {
		t.Fatalf("expected 1 unique pair, got %d", summary.UniquePairs)
	}
	if len(summary.TopPairs) != 1 || summary.TopPairs[0].Count != 3 {
		t.Fatalf("expected top pair with count 3, got %+v", summary.TopPairs)
	}
	if summary.SuppressionRatePct <= 0 {
		t.Fatalf("expected a positive suppression rate, got %v", summary.SuppressionRatePct)
	}

	// Outside the window, the offender drops out entirely.
	empty := c.SuppressionSummary(-time.Hour)
	if empty.TotalSuppressed != 0 || empty.UniquePairs != 0 {
		t.Fatalf("expected an empty summary outside the window, got %+v", empty)
	}
}

func TestViolationStatsBreaksDownByTypeStrategyAndCycle(t *testing.T) {
	c, _ := newTestController(t)
	now := time.Now()

	lat := LatencyMeasurement{LegIndex: 0, MarketSymbol: "BTC/USDT", LatencyMS: 900, Side: "buy"}
	if _, err := c.RecordLatency("cyc-4", "BTC-ETH-USDT", lat, now); err != nil {
		t.Fatalf("RecordLatency: %v", err)
	}
	slip := SlippageMeasurement{LegIndex: 0, MarketSymbol: "ETH/USDT", Side: "buy", SlippageBps: 50}
	if _, err := c.RecordSlippage("cyc-5", "ETH-BTC-USDT", slip, now); err != nil {
		t.Fatalf("RecordSlippage: %v", err)
	}

	stats := c.ViolationStats(nil)
	if stats.TotalViolations != 2 {
		t.Fatalf("expected 2 violations, got %d", stats.TotalViolations)
	}
	if stats.ByType["latency"] != 1 || stats.ByType["slippage"] != 1 {
		t.Fatalf("expected one of each type, got %+v", stats.ByType)
	}
	if stats.ByCycle["BTC-ETH-USDT"] != 1 || stats.ByCycle["ETH-BTC-USDT"] != 1 {
		t.Fatalf("expected one violation per cycle path, got %+v", stats.ByCycle)
	}
}

func TestCooldownExtendNeverShortens(t *testing.T) {
	r := NewCooldownRegistry("")
	now := time.Now()
	if err := r.Enter("X-Y-Z", now); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	entryBefore, _ := r.Active("X-Y-Z", now, 5)
	remainingBefore := entryBefore.Remaining(now, 5)

	if err := r.Extend("X-Y-Z", now, 5, 0); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	entryAfter, _ := r.Active("X-Y-Z", now, 5)
	remainingAfter := entryAfter.Remaining(now, 5)

	if remainingAfter < remainingBefore {
		t.Fatalf("extend must never shorten remaining cooldown: before=%v after=%v", remainingBefore, remainingAfter)
	}
}
