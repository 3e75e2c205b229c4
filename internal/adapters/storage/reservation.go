package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/google/uuid"
)

// ReserveSlot runs the atomic reservation protocol (§4.5) inside one
// transaction: expire stale reservations, count active cycles + pending
// reservations for strategy, and insert a new pending reservation only if
// still under maxOpenCycles.
func (s *SQLiteStorage) ReserveSlot(ctx context.Context, strategy string, ttl time.Duration, maxOpenCycles int) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("storage.ReserveSlot: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE cycle_reservations SET status = ?
		WHERE status = ? AND expires_at < ?
	`, string(domain.ReservationExpired), string(domain.ReservationPending), now); err != nil {
		return "", fmt.Errorf("storage.ReserveSlot: expire stale: %w", err)
	}

	count, err := countActiveAndPendingTx(ctx, tx, strategy)
	if err != nil {
		return "", err
	}
	if count >= maxOpenCycles {
		return "", domain.ErrMaxCyclesReached
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cycle_reservations (id, strategy_name, cycle_id, created_at, expires_at, status)
		VALUES (?, ?, NULL, ?, ?, ?)
	`, id, strategy, now, now.Add(ttl), string(domain.ReservationPending)); err != nil {
		return "", fmt.Errorf("storage.ReserveSlot: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("storage.ReserveSlot: commit: %w", err)
	}
	return id, nil
}

// ConfirmReservation attaches cycleID to a pending reservation and marks
// it confirmed. A reservation that has already expired is left alone —
// not an error, since the caller's cycle simply proceeds unreserved and
// relies on its own state-machine bookkeeping from here.
func (s *SQLiteStorage) ConfirmReservation(ctx context.Context, reservationID, cycleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cycle_reservations SET cycle_id = ?, status = ?
		WHERE id = ? AND status = ?
	`, cycleID, string(domain.ReservationConfirmed), reservationID, string(domain.ReservationPending))
	if err != nil {
		return fmt.Errorf("storage.ConfirmReservation %s: %w", reservationID, err)
	}
	return nil
}

// ReleaseReservation cancels a reservation, freeing its slot immediately.
func (s *SQLiteStorage) ReleaseReservation(ctx context.Context, reservationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE cycle_reservations SET status = ? WHERE id = ?
	`, string(domain.ReservationCancelled), reservationID)
	if err != nil {
		return fmt.Errorf("storage.ReleaseReservation %s: %w", reservationID, err)
	}
	return nil
}

// CountActiveAndPending returns the current count of active cycles plus
// pending reservations for strategy.
func (s *SQLiteStorage) CountActiveAndPending(ctx context.Context, strategy string) (int, error) {
	return countActiveAndPendingTx(ctx, s.db, strategy)
}

// txOrDB lets countActiveAndPendingTx run against either *sql.DB or
// *sql.Tx, since the reservation protocol needs it inside a transaction
// but plain status reads do not.
type txOrDB interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countActiveAndPendingTx(ctx context.Context, q txOrDB, strategy string) (int, error) {
	placeholders := make([]any, 0, len(domain.ActiveStates)+1)
	placeholders = append(placeholders, strategy)
	for _, st := range domain.ActiveStates {
		placeholders = append(placeholders, string(st))
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM cycles WHERE strategy_name = ? AND state IN (` + questionMarks(len(domain.ActiveStates)) + `))
			+
			(SELECT COUNT(*) FROM cycle_reservations WHERE strategy_name = ? AND status = ?)
	`
	args := append(append([]any{}, placeholders...), strategy, string(domain.ReservationPending))

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage.countActiveAndPending %s: %w", strategy, err)
	}
	return count, nil
}

func questionMarks(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ","
		}
		out += "?"
	}
	return out
}
