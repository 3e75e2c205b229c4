package store

import (
	"context"
	"time"
)

// ReserveSlot runs the atomic reservation protocol directly against the
// backend (§4.5): it must see a consistent count of active+pending slots
// across concurrent callers, which only the backend's transaction can
// guarantee — the in-memory cache does not buffer reservations.
func (s *Store) ReserveSlot(ctx context.Context, strategy string, ttl time.Duration, maxOpenCycles int) (string, error) {
	return s.backend.ReserveSlot(ctx, strategy, ttl, maxOpenCycles)
}

func (s *Store) ConfirmReservation(ctx context.Context, reservationID, cycleID string) error {
	return s.backend.ConfirmReservation(ctx, reservationID, cycleID)
}

func (s *Store) ReleaseReservation(ctx context.Context, reservationID string) error {
	return s.backend.ReleaseReservation(ctx, reservationID)
}

func (s *Store) CountActiveAndPending(ctx context.Context, strategy string) (int, error) {
	return s.backend.CountActiveAndPending(ctx, strategy)
}

// AppendUpdate writes straight through to the audit table; it is
// already append-only and cheap, so there is no benefit to batching it
// behind the write-through cache.
func (s *Store) AppendUpdate(ctx context.Context, cycleID, field, oldValue, newValue string, at time.Time) error {
	return s.backend.AppendUpdate(ctx, cycleID, field, oldValue, newValue, at)
}

// PruneOrphanedOrders delegates to the backend; used by crash recovery
// (§4.7) after the active cycles are read back and before any of them is
// classified.
func (s *Store) PruneOrphanedOrders(ctx context.Context) (int, error) {
	return s.backend.PruneOrphanedOrders(ctx)
}
