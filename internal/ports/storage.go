package ports

import (
	"context"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// Storage is the durable journal contract (§4.5): cycles, orders,
// cycle_updates, cycle_reservations. internal/store wraps an
// implementation of this interface with the write-through cache and
// reservation protocol; internal/adapters/storage provides the SQLite
// implementation.
type Storage interface {
	// SaveCycle upserts a cycle and its owned orders in one transaction.
	SaveCycle(ctx context.Context, rec *domain.CycleRecord) error

	// GetCycle reads a single cycle (with its orders) by id.
	GetCycle(ctx context.Context, id string) (*domain.CycleRecord, error)

	// GetActiveCycles returns all cycles in an active state (§4.5
	// Recovery read), optionally filtered by strategy.
	GetActiveCycles(ctx context.Context, strategy string) ([]*domain.CycleRecord, error)

	// AppendUpdate writes one row to the append-only cycle_updates audit
	// table.
	AppendUpdate(ctx context.Context, cycleID, field, oldValue, newValue string, at time.Time) error

	// ReserveSlot runs the atomic reservation protocol (§4.5) inside a
	// transaction: expire stale reservations, count active+pending for
	// strategy, insert a pending reservation if under maxOpenCycles.
	// Returns ("", domain.ErrMaxCyclesReached) when the strategy is at
	// its limit.
	ReserveSlot(ctx context.Context, strategy string, ttl time.Duration, maxOpenCycles int) (reservationID string, err error)

	// ConfirmReservation attaches a cycle id to a pending reservation and
	// marks it confirmed; a no-op (not an error) if the reservation has
	// already expired.
	ConfirmReservation(ctx context.Context, reservationID, cycleID string) error

	// ReleaseReservation marks a reservation cancelled, freeing its slot
	// immediately rather than waiting for TTL expiry.
	ReleaseReservation(ctx context.Context, reservationID string) error

	// CountActiveAndPending returns the current count of active cycles
	// plus pending reservations for strategy — the quantity bounded by
	// max_open_cycles (invariant 3, §8).
	CountActiveAndPending(ctx context.Context, strategy string) (int, error)

	// PruneOrphanedOrders deletes orders whose parent cycle row is
	// missing (§4.7 crash recovery "validate DB integrity").
	PruneOrphanedOrders(ctx context.Context) (int, error)

	// FlushBatch persists a set of dirty cycles and their orders in one
	// transaction (§4.5 write-through cache flush).
	FlushBatch(ctx context.Context, cycles []*domain.CycleRecord) error

	Close() error
}

// CycleSink is the narrow interface the write-through cache needs from a
// Storage implementation to flush a batch transactionally.
type CycleSink interface {
	FlushBatch(ctx context.Context, cycles []*domain.CycleRecord) error
}
