package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// DefaultPollInterval is used when settings carry no explicit interval.
const DefaultPollInterval = 5 * time.Minute

// DefaultSources returns the status sources for the built-in providers.
func DefaultSources(client *http.Client) map[string]Source {
	return map[string]Source{
		"claude": NewStatuspageSource("claude", "https://status.anthropic.com", client),
		"codex":  NewStatuspageSource("codex", "https://status.openai.com", client),
		"gemini": NewIncidentListSource("gemini",
			"https://status.cloud.google.com/incidents.json",
			"https://status.cloud.google.com",
			"Gemini", client),
	}
}

// Service polls provider status pages and caches the latest result per
// provider. A failed poll replaces the cache with an Unknown entry so the
// caller never sees silently stale data.
type Service struct {
	mu      sync.RWMutex
	sources map[string]Source
	cache   map[string]*models.ProviderStatus

	onChange []func(*models.ProviderStatus)

	pollMu   sync.Mutex
	stopPoll chan struct{}
}

// NewService creates a status service over the given sources.
func NewService(sources map[string]Source) *Service {
	return &Service{
		sources: sources,
		cache:   make(map[string]*models.ProviderStatus),
	}
}

// OnChange registers a callback invoked after every status update.
func (s *Service) OnChange(fn func(*models.ProviderStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Status returns the cached status for a provider, or nil before the first
// poll.
func (s *Service) Status(providerID string) *models.ProviderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[providerID]
}

// AllStatuses returns a copy of the cache.
func (s *Service) AllStatuses() map[string]*models.ProviderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]*models.ProviderStatus, len(s.cache))
	for id, st := range s.cache {
		result[id] = st
	}
	return result
}

// StatusPageURL returns the human-facing page for a provider, or "" when
// the provider has no source.
func (s *Service) StatusPageURL(providerID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if src, ok := s.sources[providerID]; ok {
		return src.PageURL()
	}
	return ""
}

// FetchStatus polls one provider now and updates the cache. A fetch error
// is cached as an Unknown status and also returned.
func (s *Service) FetchStatus(ctx context.Context, providerID string) (*models.ProviderStatus, error) {
	s.mu.RLock()
	src, ok := s.sources[providerID]
	s.mu.RUnlock()
	if !ok {
		return nil, errUnknownProvider(providerID)
	}

	result, err := src.Fetch(ctx)
	if err != nil {
		logger.Warn("status poll failed", "provider", providerID, "error", err)
		result = &models.ProviderStatus{
			ProviderID:  providerID,
			Level:       models.StatusUnknown,
			Description: err.Error(),
			PageURL:     src.PageURL(),
			FetchedAt:   time.Now(),
		}
	}

	s.mu.Lock()
	s.cache[providerID] = result
	callbacks := make([]func(*models.ProviderStatus), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(result)
	}
	return result, err
}

// PollAll polls every provider. Failures are isolated per provider.
func (s *Service) PollAll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sources))
	for id := range s.sources {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()
			_, _ = s.FetchStatus(ctx, providerID)
		}(id)
	}
	wg.Wait()
}

// SetPolling starts or stops background polling. Calling it again replaces
// the previous poll loop; interval <= 0 falls back to the default.
func (s *Service) SetPolling(enabled bool, interval time.Duration) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	if s.stopPoll != nil {
		close(s.stopPoll)
		s.stopPoll = nil
	}
	if !enabled {
		return
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	stop := make(chan struct{})
	s.stopPoll = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.PollAll(context.Background())
			case <-stop:
				return
			}
		}
	}()
}

// Close stops background polling.
func (s *Service) Close() {
	s.SetPolling(false, 0)
}

type errUnknownProvider string

func (e errUnknownProvider) Error() string {
	return "no status source for provider " + string(e)
}
