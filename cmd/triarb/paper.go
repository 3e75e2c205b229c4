package main

import (
	"context"
	"log/slog"

	"github.com/evanward/triarb/config"
	"github.com/evanward/triarb/internal/adapters/live"
	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/adapters/paper"
	"github.com/evanward/triarb/internal/adapters/storage"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/risk"
)

const stopFilePaper = "STOP"

// runPaper wires real market data from the Live adapter into a Paper
// adapter that fakes every fill, so a strategy can be rehearsed against
// live prices without ever risking the real account.
func runPaper(ctx context.Context, cfg *config.Config, cycles []domain.Cycle, sqliteStore *storage.SQLiteStorage, riskCtl *risk.Controller, notifier *notify.Console, once bool) {
	client := live.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.RequestsPerSecond, slog.Default())
	marketData := live.New(client, slog.Default())

	venue := paper.New(marketData, cfg.SimfillConfig(), cfg.InitialBalances(), slog.Default())

	st, eng, dec := buildCore(ctx, cfg, venue, sqliteStore, riskCtl, slog.Default())
	defer st.Close()

	scanner := newCycleScanner(venue, dec, riskCtl, eng, st, cycles, cfg.Name, buildSize(cfg), slog.Default(), notifier.Notify)

	if once {
		scanner.ScanOnce(ctx)
		printPaperExit(venue, notifier)
		return
	}

	runScanLoop(ctx, scanner, stopFilePaper, "paper")
	printPaperExit(venue, notifier)
}

func printPaperExit(venue *paper.Adapter, notifier *notify.Console) {
	metrics := venue.ExecutionMetrics()
	notifier.PrintSnapshot(notify.Snapshot{
		Balances: metrics.FinalBalances,
	})
}
