package risk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/evanward/triarb/internal/domain"
)

// CooldownRegistry is a persistent, in-memory map of cycle-key to cooldown
// entry. It is saved to disk after every mutation using a temp-file-then-
// rename so a crash mid-write never corrupts the previous good state.
type CooldownRegistry struct {
	mu      sync.Mutex
	path    string
	entries map[string]domain.CooldownEntry
}

func NewCooldownRegistry(path string) *CooldownRegistry {
	return &CooldownRegistry{path: path, entries: make(map[string]domain.CooldownEntry)}
}

// Load reads the persisted cooldown map, if present. A missing file is not
// an error: it means no cycle has ever entered cooldown.
func (r *CooldownRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var raw map[string]string // key -> RFC3339 start time
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entries := make(map[string]domain.CooldownEntry, len(raw))
	for k, v := range raw {
		start, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			continue
		}
		entries[k] = domain.CooldownEntry{Key: k, Start: start}
	}
	r.entries = entries
	return nil
}

// save writes the current map atomically. Callers must hold r.mu.
func (r *CooldownRegistry) save() error {
	if r.path == "" {
		return nil
	}
	raw := make(map[string]string, len(r.entries))
	for k, e := range r.entries {
		raw[k] = e.Start.Format(time.RFC3339Nano)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".cooldowns-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, r.path)
}

// Enter starts (or restarts) a cooldown for key, beginning now.
func (r *CooldownRegistry) Enter(key string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = domain.CooldownEntry{Key: key, Start: now}
	return r.save()
}

// Extend moves key's cooldown end extraSeconds past its current end (past
// now if key has no entry), never to earlier than now+1s. A non-negative
// extraSeconds never shortens a cooldown; a negative one can, down to that
// floor. Mirrors the original's clamp against a no-op extension.
func (r *CooldownRegistry) Extend(key string, now time.Time, cooldownSeconds, extraSeconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[key]
	curEnd := now
	if ok {
		curEnd = cur.Start.Add(time.Duration(cooldownSeconds * float64(time.Second)))
	}
	newEnd := curEnd.Add(time.Duration(extraSeconds * float64(time.Second)))
	minEnd := now.Add(time.Second)
	if newEnd.Before(minEnd) {
		newEnd = minEnd
	}
	newStart := newEnd.Add(-time.Duration(cooldownSeconds * float64(time.Second)))
	r.entries[key] = domain.CooldownEntry{Key: key, Start: newStart}
	return r.save()
}

// Active reports whether key is currently in cooldown.
func (r *CooldownRegistry) Active(key string, now time.Time, cooldownSeconds float64) (domain.CooldownEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return domain.CooldownEntry{}, false
	}
	return e, e.Active(now, cooldownSeconds)
}

// Clear removes a single key's cooldown.
func (r *CooldownRegistry) Clear(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return r.save()
}

// ClearAll wipes the entire registry.
func (r *CooldownRegistry) ClearAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]domain.CooldownEntry)
	return r.save()
}

// Snapshot returns a copy of all entries, for reporting/diagnostics.
func (r *CooldownRegistry) Snapshot() map[string]domain.CooldownEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.CooldownEntry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}
