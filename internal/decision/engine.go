// Package decision implements the pure admission check between an
// arbitrage opportunity and an EXECUTE/SKIP verdict (§4.3).
package decision

import (
	"fmt"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// Minimums mirror the original's dust-trade guards; not configurable,
// matching decision_engine.py's class constants.
const (
	MinPositionUSD    = 10.0
	LegMinNotionalUSD = 5.0
)

// Config configures one Engine instance, one per strategy.
type Config struct {
	MinProfitThresholdPct float64
	MaxPositionUSD        float64
	ExpectedMakerLegs     *int
	MaxConcurrentTrades   *int
	CooldownSeconds       *float64

	// Dynamic threshold: both must be set to enable the volatility monitor.
	VolatilityWindowSize *int
	SigmaMultiplier      *float64
}

// LegNotional is one declared leg notional, checked against
// LegMinNotionalUSD.
type LegNotional struct {
	NotionalUSD float64
}

// Inputs bundles everything evaluate_opportunity needs (§4.3).
type Inputs struct {
	GrossPct               float64
	FeesPct                float64
	SlipPct                float64
	GasPct                 float64
	SizeUSD                float64
	DepthLimitedSizeUSD    *float64
	ActualMakerLegs        *int
	CurrentConcurrentTrades int
	SecondsSinceLastTrade  *float64
	ExchangeReady          bool
	Legs                   []LegNotional
	HasQuote               bool
	HasGasEstimate         bool
}

// Decision is the EXECUTE/SKIP verdict with full reasoning and metrics.
type Decision struct {
	Action  string // "EXECUTE" | "SKIP"
	Reasons []string
	Metrics map[string]float64
}

// Engine is the admission check. It is stateless except for the
// VolatilityWindow it owns.
type Engine struct {
	cfg        Config
	volatility *domain.VolatilityWindow
}

func New(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg.VolatilityWindowSize != nil && cfg.SigmaMultiplier != nil {
		e.volatility = domain.NewVolatilityWindow(*cfg.VolatilityWindowSize)
	}
	return e
}

// Evaluate runs the ten rejection checks and returns EXECUTE only if none
// of them trigger.
func (e *Engine) Evaluate(in Inputs) Decision {
	netPct := in.GrossPct - in.FeesPct - in.SlipPct - in.GasPct

	if e.volatility != nil {
		e.volatility.Add(netPct) // always fed, regardless of the eventual decision
	}

	effectiveThreshold := e.cfg.MinProfitThresholdPct
	usingDynamic := false
	if e.volatility != nil && e.volatility.IsReady() {
		if dyn, ok := e.volatility.DynamicThreshold(*e.cfg.SigmaMultiplier); ok {
			effectiveThreshold = dyn
			usingDynamic = true
		}
	}

	breakevenGross := effectiveThreshold + in.FeesPct + in.SlipPct + in.GasPct

	metrics := map[string]float64{
		"gross_pct":           in.GrossPct,
		"net_pct":             netPct,
		"breakeven_gross_pct": breakevenGross,
		"fees_pct":            in.FeesPct,
		"slip_pct":            in.SlipPct,
		"gas_pct":             in.GasPct,
		"size_usd":            in.SizeUSD,
	}
	if e.volatility != nil {
		metrics["volatility_window_count"] = float64(e.volatility.Count())
		if usingDynamic {
			metrics["using_dynamic_threshold"] = 1
		} else {
			metrics["using_dynamic_threshold"] = 0
		}
		metrics["effective_threshold_pct"] = effectiveThreshold
		if sigma, ok := e.volatility.Sigma(); ok {
			metrics["volatility_sigma"] = sigma
		}
		if mean, ok := e.volatility.Mean(); ok {
			metrics["volatility_moving_avg"] = mean
		}
	}

	var reasons []string

	if netPct < effectiveThreshold {
		suffix := ""
		if usingDynamic {
			suffix = " (dynamic)"
		}
		reasons = append(reasons, fmt.Sprintf("threshold: net %.4f%% < %.4f%%%s", netPct, effectiveThreshold, suffix))
	}
	if in.SizeUSD < MinPositionUSD {
		reasons = append(reasons, fmt.Sprintf("size: $%.2f < min $%.2f", in.SizeUSD, MinPositionUSD))
	}
	if in.SizeUSD > e.cfg.MaxPositionUSD {
		reasons = append(reasons, fmt.Sprintf("size: $%.2f > max $%.2f", in.SizeUSD, e.cfg.MaxPositionUSD))
	}
	if in.DepthLimitedSizeUSD != nil {
		metrics["depth_limited_size_usd"] = *in.DepthLimitedSizeUSD
		if *in.DepthLimitedSizeUSD < MinPositionUSD {
			reasons = append(reasons, fmt.Sprintf("depth: reduced to $%.2f < min $%.2f", *in.DepthLimitedSizeUSD, MinPositionUSD))
		}
	}
	for i, leg := range in.Legs {
		if leg.NotionalUSD < LegMinNotionalUSD {
			reasons = append(reasons, fmt.Sprintf("leg%d: notional $%.2f < min $%.2f", i+1, leg.NotionalUSD, LegMinNotionalUSD))
		}
	}
	if e.cfg.ExpectedMakerLegs != nil && in.ActualMakerLegs != nil {
		metrics["actual_maker_legs"] = float64(*in.ActualMakerLegs)
		if *in.ActualMakerLegs < *e.cfg.ExpectedMakerLegs {
			reasons = append(reasons, fmt.Sprintf("maker_legs: %d < expected %d", *in.ActualMakerLegs, *e.cfg.ExpectedMakerLegs))
		}
	}
	if e.cfg.MaxConcurrentTrades != nil && in.CurrentConcurrentTrades >= *e.cfg.MaxConcurrentTrades {
		reasons = append(reasons, fmt.Sprintf("concurrent: %d >= max %d", in.CurrentConcurrentTrades, *e.cfg.MaxConcurrentTrades))
	}
	if e.cfg.CooldownSeconds != nil && in.SecondsSinceLastTrade != nil && *in.SecondsSinceLastTrade < *e.cfg.CooldownSeconds {
		reasons = append(reasons, fmt.Sprintf("cooldown: %.1fs < %.1fs", *in.SecondsSinceLastTrade, *e.cfg.CooldownSeconds))
	}
	if !in.ExchangeReady {
		reasons = append(reasons, "exchange: not ready")
	}
	if !in.HasQuote {
		reasons = append(reasons, "quote: missing")
	}
	if !in.HasGasEstimate {
		reasons = append(reasons, "gas: estimate missing")
	}

	if len(reasons) > 0 {
		return Decision{Action: "SKIP", Reasons: reasons, Metrics: metrics}
	}
	return Decision{Action: "EXECUTE", Reasons: nil, Metrics: metrics}
}

// FormatLog renders a single-line, greppable log entry for a decision,
// matching the original's format_decision_log (recovered per
// SPEC_FULL.md §C.6).
func (d Decision) FormatLog(at time.Time) string {
	reasonsStr := "none"
	if len(d.Reasons) > 0 {
		reasonsStr = joinReasons(d.Reasons)
	}
	line := fmt.Sprintf(
		"Decision %s reasons=[%s] metrics: gross=%.4f%% net=%.4f%% breakeven=%.4f%% fees=%.4f%% slip=%.4f%% gas=%.4f%% size=$%.2f",
		d.Action, reasonsStr,
		d.Metrics["gross_pct"], d.Metrics["net_pct"], d.Metrics["breakeven_gross_pct"],
		d.Metrics["fees_pct"], d.Metrics["slip_pct"], d.Metrics["gas_pct"], d.Metrics["size_usd"],
	)
	if v, ok := d.Metrics["depth_limited_size_usd"]; ok {
		line += fmt.Sprintf(" depth_size=$%.2f", v)
	}
	if v, ok := d.Metrics["actual_maker_legs"]; ok {
		line += fmt.Sprintf(" maker_legs=%d", int(v))
	}
	if v, ok := d.Metrics["effective_threshold_pct"]; ok {
		line += fmt.Sprintf(" threshold=%.4f%%", v)
	}
	if v, ok := d.Metrics["volatility_sigma"]; ok {
		line += fmt.Sprintf(" sigma=%.4f", v)
	}
	if !at.IsZero() {
		return fmt.Sprintf("[%s] %s", at.Format(time.RFC3339), line)
	}
	return line
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}
