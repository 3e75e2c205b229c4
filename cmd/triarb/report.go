package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/evanward/triarb/config"
	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/adapters/storage"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/risk"
)

// printSnapshot renders the `snapshot` command: a strategy-wide summary
// built entirely from persisted cycles, with no venue connection needed.
func printSnapshot(sqliteStore *storage.SQLiteStorage, riskCtl *risk.Controller, strategy string, notifier *notify.Console) {
	ctx := context.Background()

	active, err := sqliteStore.GetActiveCycles(ctx, strategy)
	exitOnErr(err, "get active cycles")

	history, err := sqliteStore.GetRecentCycles(ctx, strategy, 10000)
	exitOnErr(err, "get recent cycles")

	var completed, failed int
	var netPnL, totalFees, totalCycleMS float64
	var wins int
	for _, rec := range history {
		switch rec.State {
		case domain.CycleCompleted:
			completed++
			if rec.RealizedPnL != nil {
				netPnL += *rec.RealizedPnL
				if *rec.RealizedPnL > 0 {
					wins++
				}
			}
		case domain.CycleFailed:
			failed++
		}
		if rec.EndTime != nil {
			totalCycleMS += rec.EndTime.Sub(rec.StartTime).Seconds() * 1000
		}
	}

	winRate := 0.0
	avgCycleMS := 0.0
	if completed+failed > 0 {
		avgCycleMS = totalCycleMS / float64(completed+failed)
	}
	if completed > 0 {
		winRate = float64(wins) / float64(completed)
	}

	stats := riskCtl.Stats()
	suppressionRate := 0.0
	if stats.TotalViolations > 0 {
		suppressionRate = float64(stats.Suppressed) / float64(stats.TotalViolations)
	}

	notifier.PrintSnapshot(notify.Snapshot{
		ActiveCount:     len(active),
		CompletedCount:  completed,
		FailedCount:     failed,
		NetPnL:          netPnL,
		TotalFees:       totalFees, // OrderRecord does not persist a realized fee, so this stays 0
		WinRate:         winRate,
		AvgCycleMS:      avgCycleMS,
		SuppressionRate: suppressionRate,
	})
}

// runHealthCheck implements the `health` command: a scriptable liveness
// probe an operator (or its supervisor) runs on a schedule. It runs every
// check, then exits 1 if any invariant failed so a caller can alert on the
// exit code alone.
func runHealthCheck(cfg *config.Config, riskCtl *risk.Controller, window time.Duration, maxSuppressionRatePct float64) {
	ok := true

	if err := checkCooldownFileWritable(cfg.Storage.CooldownPath); err != nil {
		fmt.Printf("FAIL cooldown_path not writable: %v\n", err)
		ok = false
	} else {
		fmt.Println("OK   cooldown_path writable")
	}

	negative := false
	for key, entry := range riskCtl.CooldownSnapshot() {
		if entry.RemainingSeconds < 0 {
			fmt.Printf("FAIL cooldown %s has negative remaining: %.1fs\n", key, entry.RemainingSeconds)
			ok = false
			negative = true
		}
	}
	if !negative {
		fmt.Println("OK   no negative cooldown remaining")
	}

	if window <= 0 {
		window = 24 * time.Hour
	}
	summary := riskCtl.SuppressionSummary(window)
	if summary.SuppressionRatePct > maxSuppressionRatePct {
		fmt.Printf("FAIL suppression rate %.1f%% > max %.1f%% (window=%s)\n", summary.SuppressionRatePct, maxSuppressionRatePct, window)
		ok = false
	} else {
		fmt.Printf("OK   suppression rate %.1f%% <= max %.1f%% (window=%s)\n", summary.SuppressionRatePct, maxSuppressionRatePct, window)
	}

	if !ok {
		os.Exit(1)
	}
}

func checkCooldownFileWritable(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
