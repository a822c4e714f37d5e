package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

const (
	// DefaultMaxEntries bounds the request ledger.
	DefaultMaxEntries = 500
	// backgroundEntries is the aggressive bound applied under memory pressure.
	backgroundEntries = 10
	// historyVersion tags the serialized ledger format.
	historyVersion = 1
	// persistDebounce coalesces rapid appends into one disk write.
	persistDebounce = time.Second
)

// historyFile is the on-disk shape of the ledger: one versioned JSON blob,
// rebuilt wholesale on load and replaced wholesale on save.
type historyFile struct {
	Version int                 `json:"version"`
	Entries []models.RequestLog `json:"entries"`
}

// Tracker is the process-wide bounded ledger of observed requests. Mutation
// is guarded by a single lock; serialization to disk happens outside the
// lock on a snapshot copy.
type Tracker struct {
	mu         sync.Mutex
	entries    []models.RequestLog
	maxEntries int
	filePath   string
	saveTimer  *time.Timer
	onEntry    []func(models.RequestLog)
	onStats    []func(models.RequestStats)
	closed     bool
}

// NewTracker loads a tracker from filePath. A missing file starts an empty
// ledger; a corrupt one is deleted and replaced by an empty ledger rather
// than surfacing a boot-time failure.
func NewTracker(filePath string, maxEntries int) (*Tracker, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	t := &Tracker{
		maxEntries: maxEntries,
		filePath:   filePath,
	}

	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		t.load()
	}

	return t, nil
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read request history", "error", err)
		}
		return
	}

	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Warn("request history corrupt, starting empty", "path", t.filePath, "error", err)
		_ = os.Remove(t.filePath)
		return
	}

	entries := file.Entries
	if len(entries) > t.maxEntries {
		entries = entries[len(entries)-t.maxEntries:]
	}
	t.entries = entries
}

// OnEntryAdded registers a callback fired synchronously for each new entry.
func (t *Tracker) OnEntryAdded(fn func(models.RequestLog)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEntry = append(t.onEntry, fn)
}

// OnStatsUpdated registers a callback fired synchronously after each append.
func (t *Tracker) OnStatsUpdated(fn func(models.RequestStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStats = append(t.onStats, fn)
}

// Add appends an entry, evicting the oldest once the bound is reached, arms
// a debounced save and raises entry-added and stats-updated notifications.
func (t *Tracker) Add(entry models.RequestLog) {
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
	t.armSaveLocked()
	stats := t.statsLocked()
	entrySubs := append([]func(models.RequestLog){}, t.onEntry...)
	statsSubs := append([]func(models.RequestStats){}, t.onStats...)
	t.mu.Unlock()

	for _, fn := range entrySubs {
		fn(entry)
	}
	for _, fn := range statsSubs {
		fn(stats)
	}
}

// Len returns the current ledger length.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of the full ledger, oldest first.
func (t *Tracker) Entries() []models.RequestLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.RequestLog(nil), t.entries...)
}

// Stats recomputes aggregates from the current ledger. It is never cached,
// so it can never go stale relative to the ledger.
func (t *Tracker) Stats() models.RequestStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Tracker) statsLocked() models.RequestStats {
	stats := models.RequestStats{
		ByProvider: make(map[string]models.AggregateStats),
		ByModel:    make(map[string]models.AggregateStats),
	}

	var totalDuration int64
	for i := range t.entries {
		e := &t.entries[i]
		stats.TotalRequests++
		if e.Succeeded() {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		if e.InputTokens != nil {
			stats.TotalInputTokens += *e.InputTokens
		}
		if e.OutputTokens != nil {
			stats.TotalOutputTokens += *e.OutputTokens
		}
		totalDuration += e.DurationMs

		addAggregate(stats.ByProvider, e.Provider, e)
		if e.Model != "" {
			addAggregate(stats.ByModel, e.Model, e)
		}
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalRequests) * 100
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.TotalRequests)
	}
	return stats
}

func addAggregate(m map[string]models.AggregateStats, key string, e *models.RequestLog) {
	agg := m[key]
	agg.Requests++
	if !e.Succeeded() {
		agg.Errors++
	}
	if e.InputTokens != nil {
		agg.InputTokens += *e.InputTokens
	}
	if e.OutputTokens != nil {
		agg.OutputTokens += *e.OutputTokens
	}
	m[key] = agg
}

// RequestsForProvider returns the ledger entries for one provider.
func (t *Tracker) RequestsForProvider(provider string) []models.RequestLog {
	return t.filter(func(e *models.RequestLog) bool { return e.Provider == provider })
}

// RequestsForModel returns the ledger entries for one model.
func (t *Tracker) RequestsForModel(model string) []models.RequestLog {
	return t.filter(func(e *models.RequestLog) bool { return e.Model == model })
}

// Recent returns entries recorded within the given window.
func (t *Tracker) Recent(window time.Duration) []models.RequestLog {
	cutoff := time.Now().Add(-window)
	return t.filter(func(e *models.RequestLog) bool { return e.Timestamp.After(cutoff) })
}

// RateLimitedCount counts 429 responses within the given window.
func (t *Tracker) RateLimitedCount(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	count := 0
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].StatusCode == 429 && t.entries[i].Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

func (t *Tracker) filter(keep func(*models.RequestLog) bool) []models.RequestLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.RequestLog
	for i := range t.entries {
		if keep(&t.entries[i]) {
			out = append(out, t.entries[i])
		}
	}
	return out
}

// TrimForBackground aggressively shrinks the ledger under memory pressure,
// keeping only the newest entries.
func (t *Tracker) TrimForBackground() {
	t.mu.Lock()
	if len(t.entries) > backgroundEntries {
		trimmed := make([]models.RequestLog, backgroundEntries)
		copy(trimmed, t.entries[len(t.entries)-backgroundEntries:])
		t.entries = trimmed
	}
	t.armSaveLocked()
	t.mu.Unlock()
}

// armSaveLocked (re)arms the debounced save. Caller must hold t.mu.
func (t *Tracker) armSaveLocked() {
	if t.filePath == "" || t.closed {
		return
	}
	if t.saveTimer != nil {
		t.saveTimer.Stop()
	}
	t.saveTimer = time.AfterFunc(persistDebounce, func() {
		if err := t.Flush(); err != nil {
			logger.Error("failed to save request history", "error", err)
		}
	})
}

// Flush writes the ledger to disk immediately. The snapshot copy is taken
// under lock; serialization and I/O happen outside it.
func (t *Tracker) Flush() error {
	if t.filePath == "" {
		return nil
	}

	t.mu.Lock()
	if t.saveTimer != nil {
		t.saveTimer.Stop()
		t.saveTimer = nil
	}
	snapshot := historyFile{
		Version: historyVersion,
		Entries: append([]models.RequestLog(nil), t.entries...),
	}
	t.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal request history: %w", err)
	}

	tmp := t.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write request history: %w", err)
	}
	if err := os.Rename(tmp, t.filePath); err != nil {
		return fmt.Errorf("failed to replace request history: %w", err)
	}
	return nil
}

// Close cancels the pending save and flushes the ledger.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.Flush()
}
