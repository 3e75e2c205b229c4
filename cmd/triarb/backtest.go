package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/evanward/triarb/config"
	"github.com/evanward/triarb/internal/adapters/backtest"
	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/adapters/storage"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/risk"
)

// backtestStep is the simulated-time increment between scans, matching
// BacktestRunner's per-cycle advance_time_to granularity.
const backtestStep = 5 * time.Second

// runBacktest replays cfg.Venue.BacktestFeedPath from its first to its
// last timestamp, scanning once per simulated step instead of real time —
// the Backtest adapter's clock never actually sleeps.
func runBacktest(ctx context.Context, cfg *config.Config, cycles []domain.Cycle, sqliteStore *storage.SQLiteStorage, riskCtl *risk.Controller, notifier *notify.Console) {
	feed, err := backtest.LoadFeed(cfg.Venue.BacktestFeedPath)
	if err != nil {
		slog.Error("backtest: failed to load feed", "error", err, "path", cfg.Venue.BacktestFeedPath)
		os.Exit(1)
	}

	venue := backtest.New(feed, cfg.SimfillConfig(), cfg.InitialBalances(), slog.Default())

	st, eng, dec := buildCore(ctx, cfg, venue, sqliteStore, riskCtl, slog.Default())
	defer st.Close()

	scanner := newCycleScanner(venue, dec, riskCtl, eng, st, cycles, cfg.Name, buildSize(cfg), slog.Default(), notifier.Notify)

	start := venue.CurrentSimTime()
	end := time.Unix(int64(feed.LastTimestamp()), 0)
	slog.Info("backtest: replaying feed", "path", cfg.Venue.BacktestFeedPath, "start", start, "end", end)

	steps := 0
	for t := start; !t.After(end); t = t.Add(backtestStep) {
		select {
		case <-ctx.Done():
			slog.Info("backtest: cancelled")
			return
		default:
		}
		venue.AdvanceTo(t)
		scanner.ScanOnce(ctx)
		steps++
	}

	metrics := venue.ExecutionMetrics()
	slog.Info("backtest: replay complete", "steps", steps, "orders_created", metrics.OrdersCreated, "orders_filled", metrics.OrdersFilled)
	notifier.PrintSnapshot(notify.Snapshot{Balances: metrics.FinalBalances})
}
