// Package notify implements the thin operator-facing reporting surface
// (out of scope beyond its interface, per SPEC_FULL.md §1): a console
// printer for the CLI's `--active`/`--history`/`snapshot` table output,
// grounded on the teacher's `internal/adapters/notify/console.go`
// (tablewriter-rendered market tables, a compact one-line mode, and a
// validation/detail mode) re-pointed at cycle executions instead of
// Polymarket reward opportunities.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier and the richer table/summary
// printers the operator CLI calls directly.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole builds a console notifier writing to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter builds a console notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, table: true}
}

// Notify implements ports.Notifier: a single timestamped, greppable line
// per event, matching the original's `format_decision_log` philosophy of
// inlining every field instead of a structured blob.
func (c *Console) Notify(_ context.Context, event string, fields map[string]any) error {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s", now, event)
	for k, v := range fields {
		fmt.Fprintf(c.out, " %s=%v", k, v)
	}
	fmt.Fprintln(c.out)
	return nil
}

// PrintActive renders the `--active` table: currently open cycles.
func (c *Console) PrintActive(cycles []domain.CycleRecord) {
	if len(cycles) == 0 {
		fmt.Fprintln(c.out, "  (no active cycles)")
		return
	}
	if !c.table {
		c.printCompact("ACTIVE", cycles)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Strategy", "Cycle", "State", "Step", "Start $", "Current $", "Age")

	for _, cr := range cycles {
		table.Append(
			shortID(cr.ID),
			cr.StrategyName,
			cr.Currencies.String(),
			string(cr.State),
			fmt.Sprintf("%d/3", cr.CurrentStep),
			fmt.Sprintf("%.6f", cr.InitialAmount),
			fmt.Sprintf("%.6f", cr.CurrentAmount),
			time.Since(cr.StartTime).Truncate(time.Second).String(),
		)
	}
	table.Render()
}

// PrintHistory renders the `--history` table: terminal cycles with P&L.
func (c *Console) PrintHistory(cycles []domain.CycleRecord) {
	if len(cycles) == 0 {
		fmt.Fprintln(c.out, "  (no cycle history)")
		return
	}
	if !c.table {
		c.printCompact("HISTORY", cycles)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Strategy", "Cycle", "State", "PnL", "Duration", "Orders", "Error")

	for _, cr := range cycles {
		pnl := "-"
		if cr.RealizedPnL != nil {
			pnl = fmt.Sprintf("%+.6f", *cr.RealizedPnL)
		}
		duration := "-"
		if cr.EndTime != nil {
			duration = cr.EndTime.Sub(cr.StartTime).Truncate(time.Millisecond).String()
		}
		table.Append(
			shortID(cr.ID),
			cr.StrategyName,
			cr.Currencies.String(),
			string(cr.State),
			pnl,
			duration,
			fmt.Sprintf("%d", len(cr.Orders)),
			cr.ErrorMessage,
		)
	}
	table.Render()
}

// Snapshot aggregates a point-in-time summary across both active and
// historical cycles for the `snapshot` CLI command.
type Snapshot struct {
	ActiveCount     int
	CompletedCount  int
	FailedCount     int
	NetPnL          float64
	TotalFees       float64
	WinRate         float64
	AvgCycleMS      float64
	Balances        map[domain.Currency]float64
	SuppressionRate float64
}

// PrintSnapshot renders the `snapshot` command's summary block.
func (c *Console) PrintSnapshot(s Snapshot) {
	fmt.Fprintf(c.out, "\n=== STRATEGY SNAPSHOT (%s) ===\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "  Active cycles:     %d\n", s.ActiveCount)
	fmt.Fprintf(c.out, "  Completed cycles:  %d\n", s.CompletedCount)
	fmt.Fprintf(c.out, "  Failed cycles:     %d\n", s.FailedCount)
	fmt.Fprintf(c.out, "  Net P&L:           %+.6f\n", s.NetPnL)
	fmt.Fprintf(c.out, "  Total fees:        %.6f\n", s.TotalFees)
	fmt.Fprintf(c.out, "  Win rate:          %.1f%%\n", s.WinRate*100)
	fmt.Fprintf(c.out, "  Avg cycle time:    %.0fms\n", s.AvgCycleMS)
	fmt.Fprintf(c.out, "  Suppression rate:  %.1f%%\n", s.SuppressionRate*100)

	if len(s.Balances) > 0 {
		fmt.Fprintln(c.out, "  Balances:")
		for ccy, bal := range s.Balances {
			if bal > 0.000001 {
				fmt.Fprintf(c.out, "    %-6s %.6f\n", ccy, bal)
			}
		}
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printCompact(label string, cycles []domain.CycleRecord) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s: %d cycles", now, label, len(cycles))
	shown := 0
	for _, cr := range cycles {
		if shown >= 5 {
			break
		}
		fmt.Fprintf(c.out, " | %s %s %s", shortID(cr.ID), cr.Currencies.String(), cr.State)
		shown++
	}
	fmt.Fprintln(c.out)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
