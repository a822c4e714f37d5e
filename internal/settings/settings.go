// Package settings provides mutable user settings with debounced persistence
// and file watching.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
)

// saveDebounce is how long rapid successive changes coalesce before the
// settings file is rewritten.
const saveDebounce = time.Second

// Settings holds all user-configurable preferences. The zero value is not
// usable; start from Defaults.
type Settings struct {
	EnabledProviders     []string          `json:"enabledProviders"`
	PreferredStrategy    map[string]string `json:"preferredStrategy,omitempty"`
	AutoRefreshEnabled   bool              `json:"autoRefreshEnabled"`
	RefreshIntervalMin   int               `json:"refreshIntervalMinutes"`
	NotificationsEnabled bool              `json:"notificationsEnabled"`
	WarnThreshold        float64           `json:"warnThreshold"`
	CriticalThreshold    float64           `json:"criticalThreshold"`
	StatusPollEnabled    bool              `json:"statusPollEnabled"`
	StatusPollMin        int               `json:"statusPollMinutes"`
	Version              int               `json:"version,omitempty"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() Settings {
	return Settings{
		EnabledProviders:     []string{"claude", "codex", "gemini"},
		PreferredStrategy:    map[string]string{},
		AutoRefreshEnabled:   true,
		RefreshIntervalMin:   5,
		NotificationsEnabled: true,
		WarnThreshold:        80,
		CriticalThreshold:    95,
		StatusPollEnabled:    true,
		StatusPollMin:        5,
		Version:              1,
	}
}

// ProviderEnabled reports whether the provider id is in the enabled set.
func (s Settings) ProviderEnabled(id string) bool {
	for _, p := range s.EnabledProviders {
		if p == id {
			return true
		}
	}
	return false
}

// RefreshInterval returns the auto-refresh interval as a duration.
func (s Settings) RefreshInterval() time.Duration {
	if s.RefreshIntervalMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.RefreshIntervalMin) * time.Minute
}

// StatusPollInterval returns the status polling interval as a duration.
func (s Settings) StatusPollInterval() time.Duration {
	if s.StatusPollMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.StatusPollMin) * time.Minute
}

func (s Settings) clone() Settings {
	out := s
	out.EnabledProviders = append([]string(nil), s.EnabledProviders...)
	out.PreferredStrategy = make(map[string]string, len(s.PreferredStrategy))
	for k, v := range s.PreferredStrategy {
		out.PreferredStrategy[k] = v
	}
	return out
}

// Service owns the settings file. In-memory mutations and change
// notifications apply immediately; disk writes are debounced and coalesced,
// with a forced flush on Close.
type Service struct {
	mu            sync.RWMutex
	current       Settings
	filePath      string
	watcher       *fsnotify.Watcher
	subscribers   []func(Settings)
	debounceTimer *time.Timer
	lastWrite     time.Time
	stopChan      chan struct{}
	closed        bool
}

// New loads settings from filePath, falling back to defaults when the file is
// missing or corrupt, and starts watching the file for external edits.
func New(filePath string) (*Service, error) {
	s := &Service{
		filePath: filePath,
		current:  Defaults(),
		stopChan: make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	if err := s.load(); err != nil {
		if os.IsNotExist(err) {
			if err := s.writeFile(s.current); err != nil {
				return nil, fmt.Errorf("failed to create settings file: %w", err)
			}
		} else {
			// Corrupt settings are discarded, never fatal
			logger.Warn("settings file unreadable, recreating with defaults", "path", filePath, "error", err)
			_ = os.Remove(filePath)
			if err := s.writeFile(s.current); err != nil {
				return nil, fmt.Errorf("failed to recreate settings file: %w", err)
			}
		}
	}

	if err := s.startWatcher(); err != nil {
		logger.Warn("settings file watcher unavailable", "error", err)
	}

	return s, nil
}

// Get returns a copy of the current settings.
func (s *Service) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Update applies fn to a copy of the current settings, installs the result,
// notifies subscribers immediately and arms a deferred save.
func (s *Service) Update(fn func(*Settings)) {
	s.mu.Lock()
	next := s.current.clone()
	fn(&next)
	s.current = next
	snapshot := next.clone()
	s.armSaveLocked()
	subs := append([]func(Settings){}, s.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}

// OnChange registers a callback invoked after every settings change.
func (s *Service) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Flush forces any pending debounced write to disk immediately.
func (s *Service) Flush() error {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	snapshot := s.current.clone()
	s.mu.Unlock()

	return s.writeFile(snapshot)
}

// Close flushes pending writes and stops the file watcher.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	return s.Flush()
}

// armSaveLocked (re)arms the debounce timer. Caller must hold s.mu.
func (s *Service) armSaveLocked() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		s.debounceTimer = nil
		snapshot := s.current.clone()
		s.mu.Unlock()

		if err := s.writeFile(snapshot); err != nil {
			logger.Error("failed to save settings", "error", err)
		}
	})
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}
	if loaded.PreferredStrategy == nil {
		loaded.PreferredStrategy = map[string]string{}
	}
	if len(loaded.EnabledProviders) == 0 {
		loaded.EnabledProviders = Defaults().EnabledProviders
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// writeFile rewrites the settings file wholesale via a temp file rename.
func (s *Service) writeFile(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	s.mu.Lock()
	s.lastWrite = time.Now()
	s.mu.Unlock()
	return nil
}

// startWatcher watches the settings file so edits made outside the process
// are picked up and broadcast.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher

	go s.watchLoop()
	return nil
}

func (s *Service) watchLoop() {
	var reloadTimer *time.Timer

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.filePath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Ignore events caused by our own save
			s.mu.RLock()
			recent := time.Since(s.lastWrite) < 500*time.Millisecond
			s.mu.RUnlock()
			if recent {
				continue
			}

			// Editors fire several events per save; coalesce them
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(200*time.Millisecond, s.reload)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("settings watcher error", "error", err)

		case <-s.stopChan:
			return
		}
	}
}

func (s *Service) reload() {
	if err := s.load(); err != nil {
		logger.Warn("failed to reload settings after external change", "error", err)
		return
	}

	s.mu.RLock()
	snapshot := s.current.clone()
	subs := append([]func(Settings){}, s.subscribers...)
	s.mu.RUnlock()

	logger.Info("settings reloaded from disk")
	for _, sub := range subs {
		sub(snapshot)
	}
}
