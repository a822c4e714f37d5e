package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/config"
	"github.com/crhistian-cornejo/quotebar/internal/models"
	"github.com/crhistian-cornejo/quotebar/internal/settings"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		SettingsPath:    filepath.Join(dir, "settings.json"),
		HistoryPath:     filepath.Join(dir, "history.json"),
		DatabasePath:    filepath.Join(dir, "archive.db"),
		ClaudeConfigDir: filepath.Join(dir, "claude"),
		CodexConfigDir:  filepath.Join(dir, "codex"),
		GeminiConfigDir: filepath.Join(dir, "gemini"),
		HTTPTimeout:     5 * time.Second,
		CLITimeout:      2 * time.Second,
	}
}

func TestNewEngineAndClose(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	if engine.HTTPClient() == nil {
		t.Error("engine should expose a tracked HTTP client")
	}
	if engine.Store() == nil || engine.Tracker() == nil || engine.Status() == nil {
		t.Error("engine should expose its services")
	}

	providers := engine.Store().Providers()
	if len(providers) != 3 {
		t.Errorf("store tracks %d providers, want 3 by default", len(providers))
	}

	if err := engine.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestEngineCloseIdempotent(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	if err := engine.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestEngineRebuildsFetchersOnSettingsChange(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	defer func() { _ = engine.Close() }()

	engine.Settings().Update(func(s *settings.Settings) {
		s.EnabledProviders = []string{"claude"}
	})

	providers := engine.Store().Providers()
	if len(providers) != 1 || providers[0] != "claude" {
		t.Errorf("providers after disable = %v, want [claude]", providers)
	}

	engine.Settings().Update(func(s *settings.Settings) {
		s.EnabledProviders = []string{"claude", "gemini"}
	})

	found := false
	for _, id := range engine.Store().Providers() {
		if id == "gemini" {
			found = true
		}
	}
	if !found {
		t.Errorf("providers after re-enable = %v, want gemini present", engine.Store().Providers())
	}
}

func TestEngineRefreshWithoutCredentials(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	defer func() { _ = engine.Close() }()

	// No credential stores exist under the temp dirs, so every provider
	// must resolve to a not-configured error snapshot instead of failing.
	snap := engine.Refresh(context.Background(), "claude")
	if snap == nil {
		t.Fatal("Refresh() returned nil")
	}
	if snap.OK() {
		t.Errorf("snapshot should carry an error without credentials: %+v", snap)
	}
}

func TestEngineBroadcastsSettingsChanges(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	defer func() { _ = engine.Close() }()

	events := engine.Subscribe()
	defer engine.Unsubscribe(events)

	engine.Settings().Update(func(s *settings.Settings) {
		s.WarnThreshold = 70
	})

	select {
	case event := <-events:
		changed, ok := event.(SettingsChangedEvent)
		if !ok {
			t.Fatalf("got %T, want SettingsChangedEvent", event)
		}
		if changed.Settings.WarnThreshold != 70 {
			t.Errorf("WarnThreshold = %v, want 70", changed.Settings.WarnThreshold)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestEngineBroadcastsTrackedRequests(t *testing.T) {
	engine, err := NewEngine(testConfig(t))
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	defer func() { _ = engine.Close() }()

	events := engine.Subscribe()
	defer engine.Unsubscribe(events)

	engine.Tracker().Add(models.RequestLog{
		ID:         "req-1",
		Provider:   "claude",
		StatusCode: 200,
		Timestamp:  time.Now(),
	})

	var sawRequest, sawStats bool
	deadline := time.After(time.Second)
	for !(sawRequest && sawStats) {
		select {
		case event := <-events:
			switch event.(type) {
			case RequestLoggedEvent:
				sawRequest = true
			case StatsUpdatedEvent:
				sawStats = true
			}
		case <-deadline:
			t.Fatalf("missing events: request=%v stats=%v", sawRequest, sawStats)
		}
	}
}

func newTestNotifier(t *testing.T) (*notifier, *[]string) {
	t.Helper()
	svc, err := settings.New(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	n := newNotifier(svc)
	var mu sync.Mutex
	titles := &[]string{}
	n.notify = func(title, body string) error {
		mu.Lock()
		defer mu.Unlock()
		*titles = append(*titles, title)
		return nil
	}
	return n, titles
}

func snapshotUsed(provider string, used float64) *models.UsageSnapshot {
	return &models.UsageSnapshot{
		ProviderID: provider,
		FetchedAt:  time.Now(),
		Primary:    &models.RateWindow{UsedPercent: used},
	}
}

func TestNotifierFiresOnThresholdCrossing(t *testing.T) {
	n, titles := newTestNotifier(t)

	// First observation seeds the baseline without notifying, even at
	// critical usage.
	n.observe(snapshotUsed("claude", 96))
	if len(*titles) != 0 {
		t.Fatalf("baseline observation notified: %v", *titles)
	}

	// Dropping back down and re-crossing warn then critical.
	n.observe(snapshotUsed("claude", 50))
	n.observe(snapshotUsed("claude", 85))
	n.observe(snapshotUsed("claude", 97))

	if len(*titles) != 3 {
		t.Fatalf("notifications = %v, want reset + warn + critical", *titles)
	}
	if (*titles)[1] != "High usage: claude" {
		t.Errorf("warn notification = %q", (*titles)[1])
	}
	if (*titles)[2] != "Critical usage: claude" {
		t.Errorf("critical notification = %q", (*titles)[2])
	}
}

func TestNotifierDoesNotRepeatAboveThreshold(t *testing.T) {
	n, titles := newTestNotifier(t)

	n.observe(snapshotUsed("claude", 50))
	n.observe(snapshotUsed("claude", 85))
	n.observe(snapshotUsed("claude", 88))
	n.observe(snapshotUsed("claude", 90))

	if len(*titles) != 1 {
		t.Errorf("notifications = %v, want a single warn", *titles)
	}
}

func TestNotifierQuotaReset(t *testing.T) {
	n, titles := newTestNotifier(t)

	n.observe(snapshotUsed("claude", 75))
	n.observe(snapshotUsed("claude", 5))

	if len(*titles) != 1 || (*titles)[0] != "Quota reset: claude" {
		t.Errorf("notifications = %v, want a quota reset", *titles)
	}
}

func TestNotifierIgnoresErrorSnapshots(t *testing.T) {
	n, titles := newTestNotifier(t)

	n.observe(snapshotUsed("claude", 10))
	n.observe(models.ErrorSnapshot("claude", "boom"))
	n.observe(snapshotUsed("claude", 85))

	if len(*titles) != 1 {
		t.Errorf("notifications = %v, want only the warn crossing", *titles)
	}
}

func TestNotifierRespectsDisabledSetting(t *testing.T) {
	n, titles := newTestNotifier(t)
	n.settings.Update(func(s *settings.Settings) {
		s.NotificationsEnabled = false
	})

	n.observe(snapshotUsed("claude", 10))
	n.observe(snapshotUsed("claude", 99))

	if len(*titles) != 0 {
		t.Errorf("notifications = %v, want none while disabled", *titles)
	}
}
