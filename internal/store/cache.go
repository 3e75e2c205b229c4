// Package store implements the State Store's write-through cache and
// reservation protocol (§4.5) over a ports.Storage backend.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/ports"
)

// Config tunes the write-through cache's batching and eviction behavior.
type Config struct {
	MaxBatchSize   int
	FlushInterval  time.Duration
	EvictAfter     time.Duration // how long a clean terminal record stays cached
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 5 * time.Minute
	}
	return cfg
}

// Store is the write-through cache: an in-memory map of cycle id ->
// CycleRecord, a dirty set, and a background flush loop, backed by a
// ports.Storage implementation for durability and recovery reads.
type Store struct {
	backend ports.Storage
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	cached    map[string]*domain.CycleRecord
	dirty     map[string]bool
	cachedAt  map[string]time.Time // when a clean terminal record was last touched

	flushSignal chan struct{}
	stopOnce    sync.Once
	stop        chan struct{}
	done        chan struct{}
}

func New(backend ports.Storage, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:     backend,
		cfg:         defaultConfig(cfg),
		logger:      logger,
		cached:      make(map[string]*domain.CycleRecord),
		dirty:       make(map[string]bool),
		cachedAt:    make(map[string]time.Time),
		flushSignal: make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	return s
}

// Run starts the background flush loop; it returns once ctx is cancelled
// or Close is called, after a final best-effort flush.
func (s *Store) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return
		case <-s.stop:
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(ctx)
		case <-s.flushSignal:
			s.flush(ctx)
		}
	}
}

// Close signals the flush loop to stop and waits for its final flush.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Save adds or updates the cached record and marks it dirty. If the
// record just entered a terminal state, or the dirty set has reached
// MaxBatchSize, an immediate flush is signaled rather than waiting for
// the next tick.
func (s *Store) Save(rec *domain.CycleRecord) {
	s.mu.Lock()
	s.cached[rec.ID] = rec
	s.dirty[rec.ID] = true
	delete(s.cachedAt, rec.ID)

	immediate := domain.TerminalStates[rec.State] || len(s.dirty) >= s.cfg.MaxBatchSize
	s.mu.Unlock()

	if immediate {
		s.signalFlush()
	}
}

func (s *Store) signalFlush() {
	select {
	case s.flushSignal <- struct{}{}:
	default:
	}
}

// Get returns a cached record if present, without touching the backend.
func (s *Store) Get(id string) (*domain.CycleRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cached[id]
	return rec, ok
}

// flush batches every dirty cycle into one transactional write. On
// success the dirty set is cleared; on failure the dirty flags are left
// untouched so the next tick retries the same batch.
func (s *Store) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		s.evictClean()
		return
	}
	batch := make([]*domain.CycleRecord, 0, len(s.dirty))
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		if rec, ok := s.cached[id]; ok {
			batch = append(batch, rec)
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if err := s.backend.FlushBatch(ctx, batch); err != nil {
		s.logger.Error("state store flush failed, will retry", "error", err, "batch_size", len(batch))
		return
	}

	s.mu.Lock()
	now := time.Now()
	for _, id := range ids {
		delete(s.dirty, id)
		if rec, ok := s.cached[id]; ok && domain.TerminalStates[rec.State] {
			s.cachedAt[id] = now
		}
	}
	s.mu.Unlock()

	s.evictClean()
}

// evictClean drops completed/failed records that have been clean (no
// pending write) for longer than EvictAfter.
func (s *Store) evictClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, at := range s.cachedAt {
		if s.dirty[id] {
			continue
		}
		if now.Sub(at) >= s.cfg.EvictAfter {
			delete(s.cached, id)
			delete(s.cachedAt, id)
		}
	}
}

// GetActiveCycles flushes the cache, then reads all active cycles from
// the backend, preferring cached records over DB records of the same id
// (§4.5 Recovery read).
func (s *Store) GetActiveCycles(ctx context.Context, strategy string) ([]*domain.CycleRecord, error) {
	s.flush(ctx)

	dbRecords, err := s.backend.GetActiveCycles(ctx, strategy)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]*domain.CycleRecord, len(dbRecords))
	for _, rec := range dbRecords {
		merged[rec.ID] = rec
	}
	for id, rec := range s.cached {
		if rec.State.IsActive() {
			if strategy == "" || rec.StrategyName == strategy {
				merged[id] = rec
			}
		}
	}

	out := make([]*domain.CycleRecord, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	return out, nil
}
