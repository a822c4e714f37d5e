package usage

import (
	"context"
	"sync"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// Event represents a usage store event.
type Event struct {
	Snapshot   *models.UsageSnapshot
	ProviderID string
	Type       EventType
}

// EventType defines the type of usage event.
type EventType int

const (
	// EventRefreshing indicates a fetch for a provider is in flight.
	EventRefreshing EventType = iota
	// EventUpdated indicates a provider's snapshot was replaced.
	EventUpdated
	// EventAllRefreshed indicates a RefreshAll pass completed for every provider.
	EventAllRefreshed
)

// CostSource supplies locally derived cost data used to enrich a snapshot
// after a successful fetch.
type CostSource interface {
	Cost(ctx context.Context) (*models.CostInfo, error)
}

// Archiver records successful snapshots for historical charts. Archive
// failures never fail a refresh.
type Archiver interface {
	RecordSnapshot(snapshot *models.UsageSnapshot) error
}

// Config holds configuration for the usage store.
type Config struct {
	MaxConcurrent int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5}
}

// Store owns one fetcher per provider and the latest snapshot per provider.
// Cache reads never touch the network; refreshes replace snapshots
// atomically and publish change events.
type Store struct {
	mu       sync.RWMutex
	fetchers map[string]*Fetcher
	cache    map[string]*models.UsageSnapshot
	inflight map[string]chan struct{}
	costs    map[string]CostSource

	archive   Archiver
	eventChan chan Event
	sem       chan struct{}

	autoMu   sync.Mutex
	autoStop chan struct{}
}

// New creates a usage store over the given fetchers.
func New(fetchers []*Fetcher, config Config) *Store {
	if config.MaxConcurrent <= 0 {
		config = DefaultConfig()
	}

	s := &Store{
		fetchers:  make(map[string]*Fetcher, len(fetchers)),
		cache:     make(map[string]*models.UsageSnapshot),
		inflight:  make(map[string]chan struct{}),
		costs:     make(map[string]CostSource),
		eventChan: make(chan Event, 100),
		sem:       make(chan struct{}, config.MaxConcurrent),
	}
	for _, f := range fetchers {
		s.fetchers[f.ProviderID()] = f
	}
	return s
}

// SetFetchers replaces the fetcher set. Cached snapshots for providers no
// longer present are dropped; surviving providers keep their cache until
// the next refresh.
func (s *Store) SetFetchers(fetchers []*Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchers = make(map[string]*Fetcher, len(fetchers))
	for _, f := range fetchers {
		s.fetchers[f.ProviderID()] = f
	}
	for id := range s.cache {
		if _, ok := s.fetchers[id]; !ok {
			delete(s.cache, id)
		}
	}
}

// SetCostSource attaches a local cost reader for one provider.
func (s *Store) SetCostSource(providerID string, source CostSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs[providerID] = source
}

// SetArchiver attaches a snapshot archive.
func (s *Store) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = a
}

// Events returns the event channel.
func (s *Store) Events() <-chan Event {
	return s.eventChan
}

// Providers returns the known provider ids.
func (s *Store) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.fetchers))
	for id := range s.fetchers {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the cached snapshot for a provider, or nil when the
// provider has never been fetched. It never triggers network I/O.
func (s *Store) Snapshot(providerID string) *models.UsageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[providerID]
}

// AllSnapshots returns a copy of the snapshot cache.
func (s *Store) AllSnapshots() map[string]*models.UsageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.UsageSnapshot, len(s.cache))
	for id, snap := range s.cache {
		out[id] = snap
	}
	return out
}

// Refresh fetches fresh usage for one provider and replaces its cached
// snapshot. Concurrent refreshes of the same provider coalesce into one
// fetch; the second caller waits for the winner and returns its result.
func (s *Store) Refresh(ctx context.Context, providerID string) *models.UsageSnapshot {
	s.mu.Lock()
	fetcher, ok := s.fetchers[providerID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if done, running := s.inflight[providerID]; running {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return s.Snapshot(providerID)
	}
	done := make(chan struct{})
	s.inflight[providerID] = done
	s.cache[providerID] = models.LoadingSnapshot(providerID)
	s.mu.Unlock()

	s.sendEvent(Event{Type: EventRefreshing, ProviderID: providerID})

	snapshot := fetcher.Fetch(ctx)
	if snapshot.OK() {
		snapshot = s.enrich(ctx, providerID, snapshot)
	}

	s.mu.Lock()
	s.cache[providerID] = snapshot
	delete(s.inflight, providerID)
	archive := s.archive
	s.mu.Unlock()
	close(done)

	if archive != nil && snapshot.OK() {
		if err := archive.RecordSnapshot(snapshot); err != nil {
			logger.Warn("failed to archive snapshot", "provider", providerID, "error", err)
		}
	}

	s.sendEvent(Event{Type: EventUpdated, ProviderID: providerID, Snapshot: snapshot})
	return snapshot
}

// enrich merges local cost data into a successful snapshot. Enrichment
// failure leaves the base snapshot untouched.
func (s *Store) enrich(ctx context.Context, providerID string, snapshot *models.UsageSnapshot) *models.UsageSnapshot {
	s.mu.RLock()
	source := s.costs[providerID]
	s.mu.RUnlock()
	if source == nil {
		return snapshot
	}

	cost, err := source.Cost(ctx)
	if err != nil || cost == nil {
		if err != nil {
			logger.Debug("cost enrichment failed", "provider", providerID, "error", err)
		}
		return snapshot
	}
	return snapshot.WithCost(*cost)
}

// RefreshAll refreshes every known provider concurrently and emits one
// all-refreshed event after all complete. Providers refresh independently
// and may complete in any order.
func (s *Store) RefreshAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.fetchers))
	for id := range s.fetchers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()

			// Acquire semaphore
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			s.Refresh(ctx, providerID)
		}(id)
	}
	wg.Wait()

	s.sendEvent(Event{Type: EventAllRefreshed})
}

// SetAutoRefresh reconfigures the recurring refresh schedule. Calling it
// repeatedly is idempotent: the previous timer goroutine is always stopped
// before a new one starts, so double-starting never yields two live timers.
func (s *Store) SetAutoRefresh(enabled bool, interval time.Duration) {
	s.autoMu.Lock()
	defer s.autoMu.Unlock()

	if s.autoStop != nil {
		close(s.autoStop)
		s.autoStop = nil
	}
	if !enabled || interval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.autoStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RefreshAll(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Store) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the auto-refresh schedule.
func (s *Store) Close() error {
	s.SetAutoRefresh(false, 0)
	return nil
}
