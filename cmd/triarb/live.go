package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/evanward/triarb/config"
	"github.com/evanward/triarb/internal/adapters/live"
	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/adapters/storage"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/risk"
)

const stopFileLive = "STOP_LIVE"

// runLive wires the real venue adapter and runs the scan loop against it,
// with the same abort window the teacher's live mode gives an operator
// before any real money moves.
func runLive(ctx context.Context, cfg *config.Config, cycles []domain.Cycle, sqliteStore *storage.SQLiteStorage, riskCtl *risk.Controller, notifier *notify.Console, once bool) {
	fmt.Printf("\n⚠️  LIVE TRADING MODE — REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Strategy: %s | Venue: %s | Cycles: %d\n", cfg.Name, cfg.Venue.BaseURL, len(cycles))
	fmt.Printf("   Press Ctrl+C within 5 seconds to abort...\n\n")

	abort := time.NewTimer(5 * time.Second)
	select {
	case <-abort.C:
	case <-ctx.Done():
		slog.Info("live trading aborted before start")
		return
	}

	client := live.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.RequestsPerSecond, slog.Default())
	venue := live.New(client, slog.Default())

	balances, err := venue.FetchBalance(ctx)
	if err != nil {
		slog.Error("live: failed to fetch starting balance", "error", err)
		os.Exit(1)
	}
	slog.Info("live: connected", "balances", balances)

	st, eng, dec := buildCore(ctx, cfg, venue, sqliteStore, riskCtl, slog.Default())
	defer st.Close()

	scanner := newCycleScanner(venue, dec, riskCtl, eng, st, cycles, cfg.Name, buildSize(cfg), slog.Default(), notifier.Notify)

	if once {
		scanner.ScanOnce(ctx)
		return
	}

	runScanLoop(ctx, scanner, stopFileLive, "live")
}

// runScanLoop drives repeated scans on a fixed interval, matching the
// teacher's paper-trading loop: a ticker-driven cycle, a STOP file as a
// manual kill switch, and a clean exit on ctx cancellation.
func runScanLoop(ctx context.Context, scanner *cycleScanner, stopFile, label string) {
	interval := 5 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info(label+" loop started", "interval", interval, "stop_file", stopFile)
	scanner.ScanOnce(ctx)

	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info(label + " stopped (signal)")
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info(label + ": STOP file detected, shutting down")
				os.Remove(stopFile)
				return
			}
			executed := scanner.ScanOnce(ctx)
			if executed > 0 {
				slog.Info(label+": scan complete", "executed", executed)
			}
		case <-statusTicker.C:
			slog.Debug(label + ": heartbeat")
		}
	}
}
