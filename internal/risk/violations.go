package risk

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// Violation is one risk-control stop event, written as a JSON line to the
// violation log and reflected in SuppressionStats.
type Violation struct {
	Time       time.Time `json:"time"`
	CycleID    string    `json:"cycle_id"`
	Strategy   string    `json:"strategy"`
	CyclePath  string    `json:"cycle_path"`
	StopReason string    `json:"stop_reason"`
	Detail     string    `json:"detail"`
}

// SuppressionStats tracks how often duplicate violations for the same
// (cycle, reason) pair were logged once and then suppressed.
type SuppressionStats struct {
	TotalViolations  int
	Suppressed       int
	UniqueViolations int
}

// suppressedEvent is the per-(cycle,reason) bookkeeping that backs both the
// duplicate-dedup check and the windowed SuppressionSummary, mirroring the
// original's RiskControlLogger._duplicate_cache / _suppressed_history.
type suppressedEvent struct {
	CycleID        string
	StopReason     string
	FirstSeen      time.Time
	LastSeen       time.Time
	DuplicateCount int
}

// TopSuppressed is one entry in a SuppressionSummary's top-offenders list.
type TopSuppressed struct {
	CycleID    string
	StopReason string
	Count      int
}

// SuppressionSummary is a windowed view over recent suppression activity,
// grounded on RiskControlLogger.get_suppression_summary.
type SuppressionSummary struct {
	TotalSuppressed    int
	UniquePairs        int
	TopPairs           []TopSuppressed
	SuppressionRatePct float64
	Window             time.Duration
}

// ViolationTypeStats is a breakdown of journaled violations by type,
// strategy, and cycle path, grounded on
// RiskControlLogger.get_violation_stats.
type ViolationTypeStats struct {
	TotalViolations int
	ByType          map[string]int
	ByStrategy      map[string]int
	ByCycle         map[string]int
}

// ViolationLogger journals risk-control violations to a JSON-lines file,
// logging each distinct (cycle_id, stop_reason) pair only once per cycle
// to avoid flooding the log when a check re-fires every tick.
type ViolationLogger struct {
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
	history map[string]*suppressedEvent
	stats   SuppressionStats
}

func NewViolationLogger(path string, logger *slog.Logger) *ViolationLogger {
	return &ViolationLogger{path: path, logger: logger, history: make(map[string]*suppressedEvent)}
}

func dedupeKey(cycleID, stopReason string) string {
	return cycleID + "\x00" + stopReason
}

// Log records v. If this (cycle, reason) pair was already logged, the
// violation is counted but not re-written.
func (l *ViolationLogger) Log(v Violation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.TotalViolations++
	key := dedupeKey(v.CycleID, v.StopReason)
	if ev, dup := l.history[key]; dup {
		l.stats.Suppressed++
		ev.DuplicateCount++
		ev.LastSeen = v.Time
		return nil
	}
	l.history[key] = &suppressedEvent{CycleID: v.CycleID, StopReason: v.StopReason, FirstSeen: v.Time, LastSeen: v.Time}
	l.stats.UniqueViolations++

	l.logger.Warn("risk control violation", "cycle_id", v.CycleID, "stop_reason", v.StopReason, "detail", v.Detail)

	if l.path == "" {
		return nil
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// ForgetCycle drops suppression state for a cycle once it completes, so a
// future cycle with the same ID (after restart) is not permanently muted.
func (l *ViolationLogger) ForgetCycle(cycleID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.history {
		if len(key) >= len(cycleID) && key[:len(cycleID)] == cycleID && key[len(cycleID)] == '\x00' {
			delete(l.history, key)
		}
	}
}

func (l *ViolationLogger) Stats() SuppressionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// SuppressionSummary reports suppression activity still within window of
// now: total duplicates suppressed, how many distinct (cycle, reason)
// pairs are suppressing, the top 3 offenders by duplicate count, and the
// suppression rate as a percentage of (suppressed + unique) events.
func (l *ViolationLogger) SuppressionSummary(window time.Duration, now time.Time) SuppressionSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	var recent []*suppressedEvent
	for _, ev := range l.history {
		if !ev.LastSeen.Before(cutoff) {
			recent = append(recent, ev)
		}
	}

	summary := SuppressionSummary{Window: window}
	if len(recent) == 0 {
		return summary
	}

	totalSuppressed := 0
	for _, ev := range recent {
		totalSuppressed += ev.DuplicateCount
	}
	totalEvents := totalSuppressed + len(recent)

	sort.Slice(recent, func(i, j int) bool { return recent[i].DuplicateCount > recent[j].DuplicateCount })
	top := recent
	if len(top) > 3 {
		top = top[:3]
	}
	topPairs := make([]TopSuppressed, len(top))
	for i, ev := range top {
		topPairs[i] = TopSuppressed{CycleID: ev.CycleID, StopReason: ev.StopReason, Count: ev.DuplicateCount}
	}

	summary.TotalSuppressed = totalSuppressed
	summary.UniquePairs = len(recent)
	summary.TopPairs = topPairs
	if totalEvents > 0 {
		summary.SuppressionRatePct = float64(totalSuppressed) / float64(totalEvents) * 100
	}
	return summary
}

// ViolationStats replays the violation journal from disk and breaks it
// down by violation type, strategy, and cycle path. window, if non-nil,
// restricts the breakdown to violations no older than window before now.
func (l *ViolationLogger) ViolationStats(window *time.Duration, now time.Time) ViolationTypeStats {
	stats := ViolationTypeStats{
		ByType:     make(map[string]int),
		ByStrategy: make(map[string]int),
		ByCycle:    make(map[string]int),
	}

	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	if path == "" {
		return stats
	}

	f, err := os.Open(path)
	if err != nil {
		return stats
	}
	defer f.Close()

	var cutoff time.Time
	if window != nil {
		cutoff = now.Add(-*window)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var v Violation
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue
		}
		if window != nil && v.Time.Before(cutoff) {
			continue
		}
		stats.TotalViolations++
		stats.ByType[v.StopReason]++
		stats.ByStrategy[v.Strategy]++
		stats.ByCycle[v.CyclePath]++
	}
	return stats
}
