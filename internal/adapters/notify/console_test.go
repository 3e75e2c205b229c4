package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/evanward/triarb/internal/adapters/notify"
	"github.com/evanward/triarb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCycle(state domain.CycleState, pnl *float64) domain.CycleRecord {
	return domain.CycleRecord{
		ID:            "cycle-0123456789",
		StrategyName:  "btc-eth-usdt",
		Currencies:    domain.Cycle{domain.Normalize("BTC"), domain.Normalize("ETH"), domain.Normalize("USDT")},
		InitialAmount: 1.0,
		CurrentAmount: 1.002,
		State:         state,
		CurrentStep:   2,
		StartTime:     time.Now().Add(-2 * time.Second),
		RealizedPnL:   pnl,
	}
}

func TestNotifyWritesASingleGreppableLine(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	err := n.Notify(context.Background(), "cycle.completed", map[string]any{"id": "abc123", "pnl_bps": 12.5})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "cycle.completed")
	assert.Contains(t, out, "id=abc123")
	assert.Contains(t, out, "pnl_bps=12.5")
}

func TestPrintActiveRendersCyclesInTableMode(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintActive([]domain.CycleRecord{makeCycle(domain.CycleActive, nil)})

	out := buf.String()
	assert.Contains(t, out, "btc-eth-usdt")
	assert.Contains(t, out, "ACTIVE")
}

func TestPrintActiveWithNoCyclesPrintsPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintActive(nil)
	assert.Contains(t, buf.String(), "no active cycles")
}

func TestPrintHistoryShowsRealizedPnL(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	pnl := 0.004321
	cr := makeCycle(domain.CycleCompleted, &pnl)
	end := cr.StartTime.Add(1500 * time.Millisecond)
	cr.EndTime = &end

	n.PrintHistory([]domain.CycleRecord{cr})

	out := buf.String()
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "+0.004321")
}

func TestPrintSnapshotIncludesBalances(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf)

	n.PrintSnapshot(notify.Snapshot{
		ActiveCount:    2,
		CompletedCount: 10,
		FailedCount:    1,
		NetPnL:         0.05,
		WinRate:        0.8,
		Balances:       map[domain.Currency]float64{domain.Normalize("USDT"): 1234.5},
	})

	out := buf.String()
	assert.Contains(t, out, "STRATEGY SNAPSHOT")
	assert.Contains(t, out, "USDT")
	assert.Contains(t, out, "1234.5")
}
