package risk

import (
	"fmt"
	"log/slog"
	"time"
)

// Config bundles the limits a Controller enforces, one set per strategy.
type Config struct {
	Strategy          string
	MaxLegLatencyMS   float64
	MaxLegSlippageBps float64
	CooldownSeconds   float64
	CooldownPath      string
	ViolationLogPath  string
}

// Controller is the Risk Controller (§4.4): it aggregates the latency
// monitor, the slippage tracker, the cooldown registry, and the violation
// journal behind one Check/Record surface.
type Controller struct {
	cfg       Config
	latency   *LatencyMonitor
	slippage  *SlippageTracker
	cooldowns *CooldownRegistry
	journal   *ViolationLogger
}

func NewController(cfg Config, logger *slog.Logger) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cooldowns := NewCooldownRegistry(cfg.CooldownPath)
	if err := cooldowns.Load(); err != nil {
		return nil, fmt.Errorf("loading cooldown registry: %w", err)
	}
	return &Controller{
		cfg:       cfg,
		latency:   NewLatencyMonitor(cfg.MaxLegLatencyMS),
		slippage:  NewSlippageTracker(cfg.MaxLegSlippageBps),
		cooldowns: cooldowns,
		journal:   NewViolationLogger(cfg.ViolationLogPath, logger),
	}, nil
}

// PreTradeCheck gates a new cycle before it is submitted: is cycleKey
// (e.g. the currency triple) currently in cooldown from a prior violation?
func (c *Controller) PreTradeCheck(cycleKey string, now time.Time) (blocked bool, remaining time.Duration) {
	entry, active := c.cooldowns.Active(cycleKey, now, c.cfg.CooldownSeconds)
	if !active {
		return false, 0
	}
	return true, entry.Remaining(now, c.cfg.CooldownSeconds)
}

// RecordLatency logs a leg's latency and, if it violates the cap,
// journals a violation — but does NOT register a cooldown (§4.7 per-leg
// execution step 5: latency violations fail the cycle but are not
// grounds for cooldown, unlike slippage). violated tells the caller (the
// Cycle Execution Engine) whether the leg must now fail.
func (c *Controller) RecordLatency(cycleID, cycleKey string, meas LatencyMeasurement, now time.Time) (violated bool, err error) {
	if !c.latency.CheckViolation(meas) {
		return false, nil
	}
	return true, c.journal.Log(Violation{
		Time: now, CycleID: cycleID, Strategy: c.cfg.Strategy, CyclePath: cycleKey, StopReason: "latency",
		Detail: fmt.Sprintf("leg %d (%s) latency %.1fms > max %.1fms", meas.LegIndex, meas.MarketSymbol, meas.LatencyMS, c.cfg.MaxLegLatencyMS),
	})
}

// RecordSlippage logs a leg's slippage and, if it violates the cap,
// journals a violation and places cycleKey into cooldown. violated tells
// the caller whether the leg must now fail.
func (c *Controller) RecordSlippage(cycleID, cycleKey string, meas SlippageMeasurement, now time.Time) (violated bool, err error) {
	if !c.slippage.CheckViolation(meas) {
		return false, nil
	}
	if err := c.cooldowns.Enter(cycleKey, now); err != nil {
		return true, err
	}
	return true, c.journal.Log(Violation{
		Time: now, CycleID: cycleID, Strategy: c.cfg.Strategy, CyclePath: cycleKey, StopReason: "slippage",
		Detail: fmt.Sprintf("leg %d (%s/%s) slippage %.1fbps > max %.1fbps", meas.LegIndex, meas.MarketSymbol, meas.Side, meas.SlippageBps, c.cfg.MaxLegSlippageBps),
	})
}

// ExtendCooldown lengthens an existing cooldown, e.g. on a repeat
// violation within the same window.
func (c *Controller) ExtendCooldown(cycleKey string, now time.Time, extraSeconds float64) error {
	return c.cooldowns.Extend(cycleKey, now, c.cfg.CooldownSeconds, extraSeconds)
}

func (c *Controller) ClearCooldown(cycleKey string) error { return c.cooldowns.Clear(cycleKey) }
func (c *Controller) ClearAllCooldowns() error             { return c.cooldowns.ClearAll() }

// EndCycle releases per-cycle violation-dedup state and resets the
// per-cycle latency/slippage measurement buffers for reuse.
func (c *Controller) EndCycle(cycleID string) {
	c.journal.ForgetCycle(cycleID)
	c.latency.Reset()
	c.slippage.Reset()
}

func (c *Controller) Stats() SuppressionStats { return c.journal.Stats() }

// SuppressionSummary reports windowed duplicate-suppression activity for
// the `--suppression-summary [WINDOW]` operator command.
func (c *Controller) SuppressionSummary(window time.Duration) SuppressionSummary {
	return c.journal.SuppressionSummary(window, time.Now())
}

// ViolationStats reports a by-type/by-strategy/by-cycle breakdown of the
// violation journal for the `--risk-stats[=HOURS]` operator command.
// window is nil for an unbounded (all-time) breakdown.
func (c *Controller) ViolationStats(window *time.Duration) ViolationTypeStats {
	return c.journal.ViolationStats(window, time.Now())
}

func (c *Controller) CooldownSnapshot() map[string]struct {
	RemainingSeconds float64
} {
	now := time.Now()
	snap := c.cooldowns.Snapshot()
	out := make(map[string]struct{ RemainingSeconds float64 }, len(snap))
	for k, e := range snap {
		if !e.Active(now, c.cfg.CooldownSeconds) {
			continue
		}
		out[k] = struct{ RemainingSeconds float64 }{e.Remaining(now, c.cfg.CooldownSeconds).Seconds()}
	}
	return out
}
