// Command triarb runs one triangular-arbitrage strategy: it scans a
// configured set of candidate currency cycles on one venue, submits the
// ones that clear the decision engine's admission checks, and exposes an
// operator CLI for live monitoring and risk-control maintenance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evanward/triarb/config"
	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/adapters/storage"
	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/decision"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/engine"
	"github.com/evanward/triarb/internal/ports"
	"github.com/evanward/triarb/internal/risk"
	"github.com/evanward/triarb/internal/router"
	"github.com/evanward/triarb/internal/store"
)

func main() {
	configPath := flag.String("config", "config/strategy.yaml", "path to strategy config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	once := flag.Bool("once", false, "run one scan cycle and exit")

	active := flag.Bool("active", false, "print currently active cycles and exit")
	history := flag.Bool("history", false, "print recent completed/failed cycles and exit")
	historyLimit := flag.Int("history-limit", 50, "max rows for --history")
	snapshot := flag.Bool("snapshot", false, "print a strategy summary and exit")
	table := flag.Bool("table", true, "render --active/--history as a table (false: compact)")

	suppressionSummary := flag.Duration("suppression-summary", 0, "print the suppression summary for the given window and exit, e.g. 1h")
	riskStats := flag.Bool("risk-stats", false, "print the violation breakdown and exit")
	riskStatsWindow := flag.Duration("risk-stats-window", 0, "restrict -risk-stats to the given window (default: unbounded)")

	extendCooldown := flag.String("extend-cooldown", "", "extend the cooldown for a cycle key (A->B->C) and exit")
	extendSeconds := flag.Float64("extend-seconds", 60, "seconds to extend -extend-cooldown by")
	clearCooldown := flag.String("clear-cooldown", "", "clear the cooldown for a cycle key (A->B->C) and exit")
	clearAllCooldowns := flag.Bool("clear-all-cooldowns", false, "clear every cooldown and exit")

	health := flag.Bool("health", false, "run the health check and exit (nonzero exit on failure)")
	healthWindow := flag.Duration("health-window", 0, "suppression window for -health, e.g. 1h (default: 24h)")
	maxSuppressionRate := flag.Float64("max-suppression-rate", 80, "fail -health if the suppression rate exceeds this percentage")

	paperMode := flag.Bool("paper", false, "force paper mode regardless of the config's venue.mode")
	backtestMode := flag.Bool("backtest", false, "force backtest mode regardless of the config's venue.mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	mode := cfg.Venue.Mode
	if *paperMode {
		mode = "paper"
	}
	if *backtestMode {
		mode = "backtest"
	}

	sqliteStore, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "error", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	riskCtl, err := risk.NewController(cfg.RiskConfig(), slog.Default())
	if err != nil {
		slog.Error("failed to start risk controller", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewConsole(*table)

	// Maintenance commands: these never start the scan loop.
	switch {
	case *active:
		cycles, err := sqliteStore.GetActiveCycles(context.Background(), cfg.Name)
		exitOnErr(err, "get active cycles")
		notifier.PrintActive(derefCycles(cycles))
		return
	case *history:
		cycles, err := sqliteStore.GetRecentCycles(context.Background(), cfg.Name, *historyLimit)
		exitOnErr(err, "get recent cycles")
		notifier.PrintHistory(derefCycles(cycles))
		return
	case *snapshot:
		printSnapshot(sqliteStore, riskCtl, cfg.Name, notifier)
		return
	case *suppressionSummary > 0:
		s := riskCtl.SuppressionSummary(*suppressionSummary)
		fmt.Printf("Suppression summary (window=%s): total=%d unique_pairs=%d rate=%.1f%%\n",
			*suppressionSummary, s.TotalSuppressed, s.UniquePairs, s.SuppressionRatePct)
		for _, p := range s.TopPairs {
			fmt.Printf("  %-24s %-10s count=%d\n", p.CycleID, p.StopReason, p.Count)
		}
		return
	case *riskStats:
		var window *time.Duration
		if *riskStatsWindow > 0 {
			window = riskStatsWindow
		}
		st := riskCtl.ViolationStats(window)
		fmt.Printf("Violations: total=%d\n", st.TotalViolations)
		fmt.Printf("  by type:     %v\n", st.ByType)
		fmt.Printf("  by strategy: %v\n", st.ByStrategy)
		fmt.Printf("  by cycle:    %v\n", st.ByCycle)
		return
	case *extendCooldown != "":
		exitOnErr(riskCtl.ExtendCooldown(*extendCooldown, time.Now(), *extendSeconds), "extend cooldown")
		fmt.Printf("extended cooldown for %s by %.0fs\n", *extendCooldown, *extendSeconds)
		return
	case *clearCooldown != "":
		exitOnErr(riskCtl.ClearCooldown(*clearCooldown), "clear cooldown")
		fmt.Printf("cleared cooldown for %s\n", *clearCooldown)
		return
	case *clearAllCooldowns:
		exitOnErr(riskCtl.ClearAllCooldowns(), "clear all cooldowns")
		fmt.Println("cleared all cooldowns")
		return
	case *health:
		runHealthCheck(cfg, riskCtl, *healthWindow, *maxSuppressionRate)
		return
	}

	cycles, err := config.LoadCycles(cfg.TradingPairsFile)
	if err != nil {
		slog.Error("failed to load trading pairs", "error", err, "path", cfg.TradingPairsFile)
		os.Exit(1)
	}
	slog.Info("triarb starting", "strategy", cfg.Name, "mode", mode, "cycles", len(cycles), "config", *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case "live":
		runLive(ctx, cfg, cycles, sqliteStore, riskCtl, notifier, *once)
	case "backtest":
		runBacktest(ctx, cfg, cycles, sqliteStore, riskCtl, notifier)
	default:
		runPaper(ctx, cfg, cycles, sqliteStore, riskCtl, notifier, *once)
	}

	slog.Info("triarb stopped cleanly")
}

// buildCore wires the venue-agnostic components shared by every mode: the
// write-through store, the order coordinator, the recovery router, the
// decision engine, and the cycle execution engine. Every mode calls this
// once it has its own ports.VenueAdapter ready, then drives a
// cycleScanner over the result.
func buildCore(ctx context.Context, cfg *config.Config, venue ports.VenueAdapter, sqliteStore *storage.SQLiteStorage, riskCtl *risk.Controller, logger *slog.Logger) (*store.Store, *engine.Engine, *decision.Engine) {
	st := store.New(sqliteStore, cfg.StoreConfig(), logger)
	go st.Run(ctx)

	coord := coordinator.New(venue, cfg.CoordinatorConfig(), logger)
	rt := router.New(venue, coord, cfg.RouterConfig(), logger)
	eng := engine.New(cfg.Name, cfg.EngineConfig(), venue, coord, riskCtl, st, rt, logger)
	dec := decision.New(cfg.DecisionConfig())

	if err := eng.RecoverActiveCycles(ctx); err != nil {
		logger.Warn("crash recovery failed", "error", err)
	}
	return st, eng, dec
}

func buildSize(cfg *config.Config) func(available float64) float64 {
	return func(available float64) float64 {
		return cfg.CapitalAllocation.AllocationFor(available)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func exitOnErr(err error, action string) {
	if err != nil {
		slog.Error("triarb: "+action+" failed", "error", err)
		os.Exit(1)
	}
}

// derefCycles adapts storage's []*domain.CycleRecord to the value slice
// notify.Console's printers expect.
func derefCycles(recs []*domain.CycleRecord) []domain.CycleRecord {
	out := make([]domain.CycleRecord, len(recs))
	for i, r := range recs {
		out[i] = *r
	}
	return out
}
