package engine

import (
	"context"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// RecoverActiveCycles implements recover_active_cycles (§4.7): it reads
// every non-terminal cycle through the store (which flushes the cache
// first), prunes orders whose cycle no longer exists, then classifies
// and resumes each cycle read. Expired reservations are not cleaned
// here; the backend reclaims them only inside ReserveSlot.
func (e *Engine) RecoverActiveCycles(ctx context.Context) error {
	active, err := e.store.GetActiveCycles(ctx, e.strategy)
	if err != nil {
		return err
	}

	if pruned, err := e.store.PruneOrphanedOrders(ctx); err != nil {
		e.logger.Warn("recovery: prune orphaned orders failed", "error", err)
	} else if pruned > 0 {
		e.logger.Info("recovery: pruned orphaned orders", "count", pruned)
	}

	for _, rec := range active {
		e.recoverOne(ctx, rec)
	}
	return nil
}

func (e *Engine) recoverOne(ctx context.Context, rec *domain.CycleRecord) {
	now := time.Now()
	age := now.Sub(rec.StartTime)

	switch {
	case age > e.cfg.CrashRecoveryMaxAge || rec.State == domain.CyclePanicSelling:
		e.logger.Warn("recovery: cycle too old or already panic-selling, liquidating immediately",
			"cycle_id", rec.ID, "age", age, "state", rec.State)
		e.enterPanicSelling(ctx, rec)

	case rec.State == domain.CycleRecovering || e.hasStaleLastOrder(rec, now):
		if !e.revalidate(ctx, rec) {
			e.enterPanicSelling(ctx, rec)
			return
		}
		e.resume(ctx, rec)

	case rec.State == domain.CyclePending:
		// Should not happen for the active set (§4.5's active-state list
		// excludes PENDING); treat as a data anomaly.
		rec.Fail("found PENDING cycle in active recovery set")
		e.store.Save(rec)

	default:
		if !e.revalidate(ctx, rec) {
			e.enterPanicSelling(ctx, rec)
			return
		}
		e.resume(ctx, rec)
	}
}

// hasStaleLastOrder reports whether the cycle's most recent order is
// still PENDING/PLACED and older than StaleOrderAge.
func (e *Engine) hasStaleLastOrder(rec *domain.CycleRecord, now time.Time) bool {
	if len(rec.Orders) == 0 {
		return false
	}
	last := rec.Orders[len(rec.Orders)-1]
	if last.State != domain.OrderPending && last.State != domain.OrderPlaced {
		return false
	}
	return now.Sub(last.UpdatedAt) > e.cfg.StaleOrderAge
}

// revalidate re-fetches the live status of the cycle's last order from
// the venue and merges it into the OrderRecord before deciding whether
// it is still safe to resume — this covers the crash-after-placing,
// crash-before-journaling window §4.7 calls out explicitly.
func (e *Engine) revalidate(ctx context.Context, rec *domain.CycleRecord) bool {
	rec.State = domain.CycleValidating
	e.store.Save(rec)

	if len(rec.Orders) == 0 {
		return true
	}
	last := &rec.Orders[len(rec.Orders)-1]
	if last.State == domain.OrderPending || last.State == domain.OrderPlaced {
		live, err := e.venue.FetchOrder(ctx, last.ID, last.Symbol)
		if err != nil {
			e.logger.Warn("recovery: failed to re-fetch last order status", "cycle_id", rec.ID, "order_id", last.ID, "error", err)
			return false
		}
		*last = live
		e.store.Save(rec)
	}
	return true
}

// resume puts the cycle back into ACTIVE and leaves it for the next
// scheduler tick to continue from current_step; the actual leg-by-leg
// continuation reuses RunCycle's executeLeg via the caller's scheduling
// loop, not repeated here.
func (e *Engine) resume(ctx context.Context, rec *domain.CycleRecord) {
	rec.State = domain.CycleActive
	e.store.Save(rec)
	e.logger.Info("recovery: resuming cycle", "cycle_id", rec.ID, "step", rec.CurrentStep)
}
