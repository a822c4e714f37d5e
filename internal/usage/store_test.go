package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// slowStrategy blocks until released, counting invocations.
type slowStrategy struct {
	release  chan struct{}
	calls    atomic.Int32
	snapshot *models.UsageSnapshot
}

func (s *slowStrategy) Name() string    { return "slow" }
func (s *slowStrategy) Priority() int   { return 1 }
func (s *slowStrategy) Available() bool { return true }

func (s *slowStrategy) Fetch(ctx context.Context) (*models.UsageSnapshot, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	return s.snapshot, nil
}

type fakeCostSource struct {
	cost *models.CostInfo
	err  error
}

func (f *fakeCostSource) Cost(ctx context.Context) (*models.CostInfo, error) {
	return f.cost, f.err
}

type fakeArchiver struct {
	mu   sync.Mutex
	seen []*models.UsageSnapshot
	err  error
}

func (f *fakeArchiver) RecordSnapshot(s *models.UsageSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, s)
	return f.err
}

func newStore(strategies map[string][]Strategy) *Store {
	var fetchers []*Fetcher
	for id, chain := range strategies {
		fetchers = append(fetchers, NewFetcher(id, chain, ""))
	}
	return New(fetchers, DefaultConfig())
}

func TestSnapshotIsCacheOnly(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	if got := store.Snapshot("claude"); got != nil {
		t.Errorf("Snapshot before any refresh = %+v, want nil", got)
	}
	if strategy.calls.Load() != 0 {
		t.Error("cache reads must never trigger a fetch")
	}
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	got := store.Refresh(context.Background(), "claude")
	if got == nil || !got.OK() {
		t.Fatalf("Refresh() = %+v, want success", got)
	}
	if got.UsedPercent() != 50 {
		t.Errorf("UsedPercent = %v, want 50", got.UsedPercent())
	}

	cached := store.Snapshot("claude")
	if cached == nil || cached.UsedPercent() != 50 {
		t.Errorf("cache = %+v, want refreshed snapshot", cached)
	}
}

func TestRefreshUnknownProvider(t *testing.T) {
	store := newStore(nil)
	defer func() { _ = store.Close() }()

	if got := store.Refresh(context.Background(), "nope"); got != nil {
		t.Errorf("Refresh(unknown) = %+v, want nil", got)
	}
}

func TestLoadingPlaceholderDuringFetch(t *testing.T) {
	release := make(chan struct{})
	strategy := &slowStrategy{release: release, snapshot: snapshotAt(10)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	done := make(chan struct{})
	go func() {
		store.Refresh(context.Background(), "claude")
		close(done)
	}()

	// Wait for the fetch to be in flight
	for i := 0; i < 100; i++ {
		if strategy.calls.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mid := store.Snapshot("claude")
	if mid == nil || !mid.IsLoading {
		t.Errorf("snapshot during fetch = %+v, want loading placeholder", mid)
	}

	close(release)
	<-done

	final := store.Snapshot("claude")
	if final == nil || final.IsLoading {
		t.Errorf("snapshot after fetch = %+v, want final result", final)
	}
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	release := make(chan struct{})
	strategy := &slowStrategy{release: release, snapshot: snapshotAt(33)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	var wg sync.WaitGroup
	results := make([]*models.UsageSnapshot, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = store.Refresh(context.Background(), "claude")
		}(i)
	}

	// Let all goroutines reach the store before releasing the fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := strategy.calls.Load(); got != 1 {
		t.Errorf("fetch invocations = %d, want 1 (single flight)", got)
	}
	for i, r := range results {
		if r == nil || r.IsLoading || r.UsedPercent() != 33 {
			t.Errorf("result[%d] = %+v, want the single consistent snapshot", i, r)
		}
	}
}

func TestRefreshAllFansOutAndSignals(t *testing.T) {
	store := newStore(map[string][]Strategy{
		"claude": {&fakeStrategy{name: "a", priority: 1, capable: true, snapshot: snapshotAt(1)}},
		"codex":  {&fakeStrategy{name: "b", priority: 1, capable: true, snapshot: snapshotAt(2)}},
		"gemini": {&fakeStrategy{name: "c", priority: 1, capable: true, err: errors.New("down")}},
	})
	defer func() { _ = store.Close() }()

	store.RefreshAll(context.Background())

	snaps := store.AllSnapshots()
	if len(snaps) != 3 {
		t.Fatalf("AllSnapshots() = %d entries, want 3", len(snaps))
	}
	if !snaps["claude"].OK() || !snaps["codex"].OK() {
		t.Error("successful providers should have ok snapshots")
	}
	if snaps["gemini"].OK() {
		t.Error("failed provider should carry an error snapshot, not block others")
	}

	// Drain events and confirm the all-refreshed signal arrived after the pass.
	sawAll := false
	for {
		select {
		case ev := <-store.Events():
			if ev.Type == EventAllRefreshed {
				sawAll = true
			}
		default:
			if !sawAll {
				t.Error("expected an all-refreshed event")
			}
			return
		}
	}
}

func TestCostEnrichment(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	store.SetCostSource("claude", &fakeCostSource{cost: &models.CostInfo{TodayUSD: 1.25}})

	got := store.Refresh(context.Background(), "claude")
	if got.Cost == nil || got.Cost.TodayUSD != 1.25 {
		t.Errorf("Cost = %+v, want TodayUSD 1.25", got.Cost)
	}
}

func TestCostEnrichmentFailureKeepsBaseSnapshot(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	store.SetCostSource("claude", &fakeCostSource{err: errors.New("no session logs")})

	got := store.Refresh(context.Background(), "claude")
	if !got.OK() {
		t.Fatal("enrichment failure must not fail the base snapshot")
	}
	if got.Cost != nil {
		t.Error("failed enrichment should leave Cost nil")
	}
	if got.UsedPercent() != 50 {
		t.Error("base snapshot data must survive enrichment failure")
	}
}

func TestArchiverReceivesSuccessfulSnapshots(t *testing.T) {
	store := newStore(map[string][]Strategy{
		"claude": {&fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}},
		"codex":  {&fakeStrategy{name: "s", priority: 1, capable: true, err: errors.New("down")}},
	})
	defer func() { _ = store.Close() }()

	archiver := &fakeArchiver{}
	store.SetArchiver(archiver)

	store.RefreshAll(context.Background())

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.seen) != 1 {
		t.Fatalf("archived snapshots = %d, want 1 (errors are not archived)", len(archiver.seen))
	}
	if archiver.seen[0].ProviderID != "claude" {
		t.Errorf("archived provider = %q, want claude", archiver.seen[0].ProviderID)
	}
}

func TestArchiverFailureDoesNotFailRefresh(t *testing.T) {
	store := newStore(map[string][]Strategy{
		"claude": {&fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}},
	})
	defer func() { _ = store.Close() }()

	store.SetArchiver(&fakeArchiver{err: errors.New("disk full")})

	got := store.Refresh(context.Background(), "claude")
	if !got.OK() {
		t.Error("archive failure must never fail a refresh")
	}
}

func TestSetAutoRefreshIdempotent(t *testing.T) {
	strategy := &fakeStrategy{name: "s", priority: 1, capable: true, snapshot: snapshotAt(50)}
	store := newStore(map[string][]Strategy{"claude": {strategy}})
	defer func() { _ = store.Close() }()

	// Toggling repeatedly must never leave two live timers behind.
	store.SetAutoRefresh(true, 20*time.Millisecond)
	store.SetAutoRefresh(true, 20*time.Millisecond)
	store.SetAutoRefresh(true, 20*time.Millisecond)

	time.Sleep(110 * time.Millisecond)
	store.SetAutoRefresh(false, 0)
	afterStop := strategy.calls.Load()

	if afterStop < 3 {
		t.Errorf("expected several timer-driven refreshes, got %d", afterStop)
	}
	// With two live timers the count would be roughly double the elapsed
	// ticks; allow headroom for scheduling jitter.
	if afterStop > 8 {
		t.Errorf("refresh count %d suggests duplicate timers", afterStop)
	}

	time.Sleep(60 * time.Millisecond)
	if got := strategy.calls.Load(); got != afterStop {
		t.Errorf("refreshes continued after disable: %d -> %d", afterStop, got)
	}
}

func TestSetFetchersReplacesProviderSet(t *testing.T) {
	store := newStore(map[string][]Strategy{
		"claude": {&slowStrategy{snapshot: &models.UsageSnapshot{ProviderID: "claude"}}},
		"codex":  {&slowStrategy{snapshot: &models.UsageSnapshot{ProviderID: "codex"}}},
	})
	defer func() { _ = store.Close() }()

	store.Refresh(context.Background(), "codex")
	if store.Snapshot("codex") == nil {
		t.Fatal("codex should be cached after refresh")
	}

	store.SetFetchers([]*Fetcher{
		NewFetcher("claude", []Strategy{&slowStrategy{
			snapshot: &models.UsageSnapshot{ProviderID: "claude"},
		}}, ""),
	})

	providers := store.Providers()
	if len(providers) != 1 || providers[0] != "claude" {
		t.Errorf("Providers() = %v, want [claude]", providers)
	}
	if store.Snapshot("codex") != nil {
		t.Error("removed provider should drop its cached snapshot")
	}
	if store.Refresh(context.Background(), "codex") != nil {
		t.Error("removed provider should no longer refresh")
	}
	if snap := store.Refresh(context.Background(), "claude"); snap == nil {
		t.Error("surviving provider should still refresh")
	}
}
