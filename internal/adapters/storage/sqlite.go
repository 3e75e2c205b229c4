// Package storage provides the SQLite implementation of ports.Storage:
// the durable journal for cycle execution (§4.5).
//
// Four tables:
//   cycles             — one row per cycle, serialized economic/execution
//                         fields.
//   orders             — one row per order, foreign key to cycle id,
//                         cascading delete.
//   cycle_updates      — append-only audit of field changes.
//   cycle_reservations — per-strategy concurrency tokens.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evanward/triarb/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    id             TEXT PRIMARY KEY,
    strategy_name  TEXT NOT NULL,
    ccy0           TEXT NOT NULL,
    ccy1           TEXT NOT NULL,
    ccy2           TEXT NOT NULL,
    initial_amount REAL NOT NULL,
    current_amount REAL NOT NULL,
    current_ccy    TEXT NOT NULL,
    state          TEXT NOT NULL,
    current_step   INTEGER NOT NULL DEFAULT 0,
    start_time     DATETIME NOT NULL,
    end_time       DATETIME,
    realized_pnl   REAL,
    error_message  TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    cycle_id         TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
    leg_index        INTEGER NOT NULL,
    symbol           TEXT NOT NULL,
    side             TEXT NOT NULL,
    requested_amount REAL NOT NULL,
    limit_price      REAL,
    state            TEXT NOT NULL,
    filled_amount    REAL NOT NULL DEFAULT 0,
    remaining_amount REAL NOT NULL DEFAULT 0,
    avg_fill_price   REAL NOT NULL DEFAULT 0,
    retry_count      INTEGER NOT NULL DEFAULT 0,
    error_message    TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_updates (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id  TEXT NOT NULL,
    field     TEXT NOT NULL,
    old_value TEXT NOT NULL DEFAULT '',
    new_value TEXT NOT NULL DEFAULT '',
    at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_reservations (
    id            TEXT PRIMARY KEY,
    strategy_name TEXT NOT NULL,
    cycle_id      TEXT,
    created_at    DATETIME NOT NULL,
    expires_at    DATETIME NOT NULL,
    status        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_cycle       ON orders(cycle_id);
CREATE INDEX IF NOT EXISTS idx_cycles_state       ON cycles(state);
CREATE INDEX IF NOT EXISTS idx_updates_cycle      ON cycle_updates(cycle_id);
CREATE INDEX IF NOT EXISTS idx_reservations_strat ON cycle_reservations(strategy_name, status);
`

// SQLiteStorage implements ports.Storage using modernc.org/sqlite (pure
// Go, no CGo — matching the teacher's driver choice).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path, applies the
// schema, and configures the connection for the single-writer,
// write-intensive workload §4.5 describes: WAL journaling, relaxed
// fsync, in-memory temp storage, a larger page cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; serialize through one conn
	db.SetMaxIdleConns(1)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA temp_store = MEMORY`,
		`PRAGMA cache_size = -20000`, // ~20MB page cache
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStorage: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func marshalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMetadata(raw string) map[string]string {
	m := make(map[string]string)
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

// SaveCycle upserts a cycle and all of its owned orders in one
// transaction.
func (s *SQLiteStorage) SaveCycle(ctx context.Context, rec *domain.CycleRecord) error {
	return s.saveCycles(ctx, []*domain.CycleRecord{rec})
}

// FlushBatch is the write-through cache's batched persistence call: every
// dirty cycle (and its orders) in one transaction.
func (s *SQLiteStorage) FlushBatch(ctx context.Context, cycles []*domain.CycleRecord) error {
	return s.saveCycles(ctx, cycles)
}

func (s *SQLiteStorage) saveCycles(ctx context.Context, cycles []*domain.CycleRecord) error {
	if len(cycles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.saveCycles: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range cycles {
		if err := upsertCycle(ctx, tx, rec); err != nil {
			return err
		}
		for _, ord := range rec.Orders {
			if err := upsertOrder(ctx, tx, rec.ID, &ord); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.saveCycles: commit: %w", err)
	}
	return nil
}

func upsertCycle(ctx context.Context, tx *sql.Tx, rec *domain.CycleRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cycles
			(id, strategy_name, ccy0, ccy1, ccy2, initial_amount, current_amount,
			 current_ccy, state, current_step, start_time, end_time, realized_pnl,
			 error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_amount = excluded.current_amount,
			current_ccy    = excluded.current_ccy,
			state          = excluded.state,
			current_step   = excluded.current_step,
			end_time       = excluded.end_time,
			realized_pnl   = excluded.realized_pnl,
			error_message  = excluded.error_message,
			metadata       = excluded.metadata
	`,
		rec.ID, rec.StrategyName, string(rec.Currencies[0]), string(rec.Currencies[1]), string(rec.Currencies[2]),
		rec.InitialAmount, rec.CurrentAmount, string(rec.CurrentCcy), string(rec.State), rec.CurrentStep,
		rec.StartTime, rec.EndTime, rec.RealizedPnL, rec.ErrorMessage, marshalMetadata(rec.Metadata),
	)
	if err != nil {
		return fmt.Errorf("storage.upsertCycle %s: %w", rec.ID, err)
	}
	return nil
}

func upsertOrder(ctx context.Context, tx *sql.Tx, cycleID string, ord *domain.OrderRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders
			(id, cycle_id, leg_index, symbol, side, requested_amount, limit_price,
			 state, filled_amount, remaining_amount, avg_fill_price, retry_count,
			 error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state            = excluded.state,
			filled_amount    = excluded.filled_amount,
			remaining_amount = excluded.remaining_amount,
			avg_fill_price   = excluded.avg_fill_price,
			retry_count      = excluded.retry_count,
			error_message    = excluded.error_message,
			updated_at       = excluded.updated_at
	`,
		ord.ID, cycleID, ord.LegIndex, ord.Symbol, ord.Side, ord.RequestedAmount, ord.LimitPrice,
		ord.State, ord.FilledAmount, ord.RemainingAmount, ord.AvgFillPrice, ord.RetryCount,
		ord.ErrorMessage, ord.CreatedAt, ord.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage.upsertOrder %s: %w", ord.ID, err)
	}
	return nil
}

// GetCycle reads a single cycle with its orders.
func (s *SQLiteStorage) GetCycle(ctx context.Context, id string) (*domain.CycleRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, strategy_name, ccy0, ccy1, ccy2, initial_amount, current_amount,
		       current_ccy, state, current_step, start_time, end_time, realized_pnl,
		       error_message, metadata
		FROM cycles WHERE id = ?
	`, id)

	rec, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetCycle %s: %w", id, err)
	}

	orders, err := s.loadOrders(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Orders = orders
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*domain.CycleRecord, error) {
	var rec domain.CycleRecord
	var ccy0, ccy1, ccy2, currentCcy, state, metadata string
	var endTime sql.NullTime
	var realizedPnL sql.NullFloat64

	if err := row.Scan(
		&rec.ID, &rec.StrategyName, &ccy0, &ccy1, &ccy2, &rec.InitialAmount, &rec.CurrentAmount,
		&currentCcy, &state, &rec.CurrentStep, &rec.StartTime, &endTime, &realizedPnL,
		&rec.ErrorMessage, &metadata,
	); err != nil {
		return nil, err
	}

	rec.Currencies = domain.Cycle{domain.Currency(ccy0), domain.Currency(ccy1), domain.Currency(ccy2)}
	rec.CurrentCcy = domain.Currency(currentCcy)
	rec.State = domain.CycleState(state)
	rec.Metadata = unmarshalMetadata(metadata)
	if endTime.Valid {
		rec.EndTime = &endTime.Time
	}
	if realizedPnL.Valid {
		rec.RealizedPnL = &realizedPnL.Float64
	}
	return &rec, nil
}

func (s *SQLiteStorage) loadOrders(ctx context.Context, cycleID string) ([]domain.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, leg_index, symbol, side, requested_amount, limit_price,
		       state, filled_amount, remaining_amount, avg_fill_price, retry_count,
		       error_message, created_at, updated_at
		FROM orders WHERE cycle_id = ? ORDER BY leg_index ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.loadOrders %s: %w", cycleID, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		var o domain.OrderRecord
		var state string
		var limitPrice sql.NullFloat64
		if err := rows.Scan(
			&o.ID, &o.CycleID, &o.LegIndex, &o.Symbol, &o.Side, &o.RequestedAmount, &limitPrice,
			&state, &o.FilledAmount, &o.RemainingAmount, &o.AvgFillPrice, &o.RetryCount,
			&o.ErrorMessage, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.loadOrders: scan: %w", err)
		}
		o.State = domain.OrderState(state)
		if limitPrice.Valid {
			o.LimitPrice = &limitPrice.Float64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetActiveCycles returns all cycles in an active state, optionally
// filtered by strategy.
func (s *SQLiteStorage) GetActiveCycles(ctx context.Context, strategy string) ([]*domain.CycleRecord, error) {
	placeholders := make([]string, len(domain.ActiveStates))
	args := make([]any, 0, len(domain.ActiveStates)+1)
	for i, st := range domain.ActiveStates {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		SELECT id, strategy_name, ccy0, ccy1, ccy2, initial_amount, current_amount,
		       current_ccy, state, current_step, start_time, end_time, realized_pnl,
		       error_message, metadata
		FROM cycles WHERE state IN (%s)`, strings.Join(placeholders, ","))
	if strategy != "" {
		query += " AND strategy_name = ?"
		args = append(args, strategy)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetActiveCycles: %w", err)
	}
	defer rows.Close()

	var out []*domain.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetActiveCycles: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range out {
		orders, err := s.loadOrders(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Orders = orders
	}
	return out, nil
}

// AppendUpdate writes one row to the append-only audit table.
func (s *SQLiteStorage) AppendUpdate(ctx context.Context, cycleID, field, oldValue, newValue string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_updates (cycle_id, field, old_value, new_value, at) VALUES (?, ?, ?, ?, ?)`,
		cycleID, field, oldValue, newValue, at,
	)
	if err != nil {
		return fmt.Errorf("storage.AppendUpdate %s.%s: %w", cycleID, field, err)
	}
	return nil
}

// PruneOrphanedOrders deletes orders whose parent cycle row is missing —
// the crash-recovery integrity check (§4.7).
func (s *SQLiteStorage) PruneOrphanedOrders(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM orders WHERE cycle_id NOT IN (SELECT id FROM cycles)
	`)
	if err != nil {
		return 0, fmt.Errorf("storage.PruneOrphanedOrders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetRecentCycles returns the most recent terminal (completed or failed)
// cycles, newest first, for the operator CLI's `--history` command. This
// is not part of ports.Storage (the engine never needs it); callers that
// need it hold a concrete *SQLiteStorage.
func (s *SQLiteStorage) GetRecentCycles(ctx context.Context, strategy string, limit int) ([]*domain.CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, strategy_name, ccy0, ccy1, ccy2, initial_amount, current_amount,
		       current_ccy, state, current_step, start_time, end_time, realized_pnl,
		       error_message, metadata
		FROM cycles WHERE state IN ('COMPLETED', 'FAILED')`
	args := []any{}
	if strategy != "" {
		query += " AND strategy_name = ?"
		args = append(args, strategy)
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.GetRecentCycles: %w", err)
	}
	defer rows.Close()

	var out []*domain.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.GetRecentCycles: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, rec := range out {
		orders, err := s.loadOrders(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Orders = orders
	}
	return out, nil
}
