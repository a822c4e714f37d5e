// Package services wires the usage store, request tracker, status poller
// and settings into one engine with a unified event stream.
package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/crhistian-cornejo/quotebar/internal/config"
	"github.com/crhistian-cornejo/quotebar/internal/db"
	"github.com/crhistian-cornejo/quotebar/internal/models"
	"github.com/crhistian-cornejo/quotebar/internal/providers/claude"
	"github.com/crhistian-cornejo/quotebar/internal/providers/codex"
	"github.com/crhistian-cornejo/quotebar/internal/providers/gemini"
	"github.com/crhistian-cornejo/quotebar/internal/settings"
	"github.com/crhistian-cornejo/quotebar/internal/status"
	"github.com/crhistian-cornejo/quotebar/internal/track"
	"github.com/crhistian-cornejo/quotebar/internal/usage"
)

type (
	// UsageUpdatedEvent is emitted when a provider snapshot changes.
	UsageUpdatedEvent struct {
		ProviderID string
		Snapshot   *models.UsageSnapshot
	}

	// AllRefreshedEvent is emitted after a full refresh cycle completes.
	AllRefreshedEvent struct{}

	// RequestLoggedEvent is emitted for every tracked HTTP exchange.
	RequestLoggedEvent struct {
		Entry models.RequestLog
	}

	// StatsUpdatedEvent is emitted when ledger statistics change.
	StatsUpdatedEvent struct {
		Stats models.RequestStats
	}

	// StatusChangedEvent is emitted after a status page poll.
	StatusChangedEvent struct {
		Status *models.ProviderStatus
	}

	// SettingsChangedEvent is emitted when settings change from any source.
	SettingsChangedEvent struct {
		Settings settings.Settings
	}
)

// EngineEvent is the interface implemented by all engine events.
type EngineEvent interface {
	isEngineEvent()
}

func (UsageUpdatedEvent) isEngineEvent()    {}
func (AllRefreshedEvent) isEngineEvent()    {}
func (RequestLoggedEvent) isEngineEvent()   {}
func (StatsUpdatedEvent) isEngineEvent()    {}
func (StatusChangedEvent) isEngineEvent()   {}
func (SettingsChangedEvent) isEngineEvent() {}

// Engine composes all services and routes their events to subscribers.
type Engine struct {
	mu          sync.RWMutex
	subscribers []chan<- EngineEvent

	cfg      *config.Config
	settings *settings.Service
	tracker  *track.Tracker
	store    *usage.Store
	status   *status.Service
	database *db.DB

	httpClient  *http.Client
	plainClient *http.Client
	notifier    *notifier
	stopChan    chan struct{}
	closed      bool
}

// NewEngine builds the full service graph from config.
func NewEngine(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}

	var err error
	e.settings, err = settings.New(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}

	e.tracker, err = track.NewTracker(cfg.HistoryPath, track.DefaultMaxEntries)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to initialize request tracker: %w", err)
	}

	// The tracked client is for callers routing their own provider traffic
	// through the ledger. Internal polling uses a plain client so the
	// ledger only ever sees application requests.
	classifier := track.NewClassifier(track.DefaultRules())
	e.httpClient = &http.Client{
		Transport: track.NewHandler(http.DefaultTransport, classifier, e.tracker),
		Timeout:   cfg.HTTPTimeout,
	}
	e.plainClient = &http.Client{Timeout: cfg.HTTPTimeout}

	e.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	current := e.settings.Get()
	e.store = usage.New(e.buildFetchers(current), usage.DefaultConfig())
	e.store.SetArchiver(e.database)
	e.store.SetCostSource(claude.ProviderID, claude.NewCostReader(cfg.ClaudeConfigDir))
	e.store.SetCostSource(codex.ProviderID, codex.NewCostReader(cfg.CodexConfigDir))

	e.status = status.NewService(status.DefaultSources(e.plainClient))
	e.notifier = newNotifier(e.settings)

	e.tracker.OnEntryAdded(func(entry models.RequestLog) {
		e.broadcast(RequestLoggedEvent{Entry: entry})
	})
	e.tracker.OnStatsUpdated(func(stats models.RequestStats) {
		e.broadcast(StatsUpdatedEvent{Stats: stats})
	})
	e.status.OnChange(func(st *models.ProviderStatus) {
		e.broadcast(StatusChangedEvent{Status: st})
	})
	e.settings.OnChange(func(s settings.Settings) {
		e.applySettings(s)
		e.broadcast(SettingsChangedEvent{Settings: s})
	})

	e.applySettings(current)
	go e.routeEvents()

	return e, nil
}

// buildFetchers assembles the strategy chains for every enabled provider.
func (e *Engine) buildFetchers(s settings.Settings) []*usage.Fetcher {
	var fetchers []*usage.Fetcher

	if s.ProviderEnabled(claude.ProviderID) {
		fetchers = append(fetchers, usage.NewFetcher(claude.ProviderID,
			claude.Strategies(claude.Options{
				ConfigDir:  e.cfg.ClaudeConfigDir,
				Client:     e.plainClient,
				CLITimeout: e.cfg.CLITimeout,
			}),
			s.PreferredStrategy[claude.ProviderID]))
	}
	if s.ProviderEnabled(codex.ProviderID) {
		fetchers = append(fetchers, usage.NewFetcher(codex.ProviderID,
			codex.Strategies(codex.Options{
				ConfigDir: e.cfg.CodexConfigDir,
				Client:    e.plainClient,
			}),
			s.PreferredStrategy[codex.ProviderID]))
	}
	if s.ProviderEnabled(gemini.ProviderID) {
		fetchers = append(fetchers, usage.NewFetcher(gemini.ProviderID,
			gemini.Strategies(gemini.Options{
				ConfigDir:    e.cfg.GeminiConfigDir,
				ClientID:     e.cfg.GoogleClientID,
				ClientSecret: e.cfg.GoogleClientSecret,
				Client:       e.plainClient,
				CLITimeout:   e.cfg.CLITimeout,
			}),
			s.PreferredStrategy[gemini.ProviderID]))
	}
	return fetchers
}

// applySettings reconfigures the fetcher set and background loops after a
// settings change, so provider toggles and preferred-strategy edits take
// effect without a restart.
func (e *Engine) applySettings(s settings.Settings) {
	e.store.SetFetchers(e.buildFetchers(s))
	e.store.SetAutoRefresh(s.AutoRefreshEnabled, s.RefreshInterval())
	e.status.SetPolling(s.StatusPollEnabled, s.StatusPollInterval())
}

// routeEvents forwards usage store events to subscribers.
func (e *Engine) routeEvents() {
	for {
		select {
		case event := <-e.store.Events():
			e.handleUsageEvent(event)
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) handleUsageEvent(event usage.Event) {
	switch event.Type {
	case usage.EventUpdated:
		e.broadcast(UsageUpdatedEvent{
			ProviderID: event.ProviderID,
			Snapshot:   event.Snapshot,
		})
		if event.Snapshot != nil {
			e.notifier.observe(event.Snapshot)
		}
	case usage.EventAllRefreshed:
		e.broadcast(AllRefreshedEvent{})
	case usage.EventRefreshing:
		e.broadcast(UsageUpdatedEvent{
			ProviderID: event.ProviderID,
			Snapshot:   event.Snapshot,
		})
	}
}

// broadcast sends an event to all subscribers without blocking.
func (e *Engine) broadcast(event EngineEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber channel full, skip
		}
	}
}

// Subscribe creates a channel receiving all engine events.
func (e *Engine) Subscribe() chan EngineEvent {
	ch := make(chan EngineEvent, 50)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *Engine) Unsubscribe(ch chan EngineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subscribers {
		if sub == ch {
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// HTTPClient returns the tracked client. Requests sent through it to known
// provider hosts land in the request ledger.
func (e *Engine) HTTPClient() *http.Client {
	return e.httpClient
}

// Settings returns the settings service.
func (e *Engine) Settings() *settings.Service { return e.settings }

// Tracker returns the request ledger.
func (e *Engine) Tracker() *track.Tracker { return e.tracker }

// Store returns the usage store.
func (e *Engine) Store() *usage.Store { return e.store }

// Status returns the status page service.
func (e *Engine) Status() *status.Service { return e.status }

// Database returns the snapshot archive.
func (e *Engine) Database() *db.DB { return e.database }

// RefreshAll refreshes every enabled provider.
func (e *Engine) RefreshAll(ctx context.Context) {
	e.store.RefreshAll(ctx)
}

// Refresh refreshes one provider and returns its snapshot.
func (e *Engine) Refresh(ctx context.Context, providerID string) *models.UsageSnapshot {
	return e.store.Refresh(ctx, providerID)
}

// Close flushes and stops every service. Further calls are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.stopChan)
	return e.close()
}

func (e *Engine) close() error {
	var firstErr error
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.status != nil {
		e.status.Close()
	}
	if e.tracker != nil {
		if err := e.tracker.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.settings != nil {
		if err := e.settings.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.database != nil {
		if err := e.database.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
