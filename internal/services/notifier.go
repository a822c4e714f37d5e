package services

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/crhistian-cornejo/quotebar/internal/models"
	"github.com/crhistian-cornejo/quotebar/internal/settings"
)

// resetDropPoints is how far used percent must fall between snapshots to
// count as a quota reset.
const resetDropPoints = 20.0

// notifier sends desktop notifications on threshold crossings. A
// notification fires only when a snapshot crosses a threshold relative to
// the previous one, never on every poll.
type notifier struct {
	mu       sync.Mutex
	settings *settings.Service
	previous map[string]float64

	// notify is swappable for tests.
	notify func(title, body string) error
}

func newNotifier(s *settings.Service) *notifier {
	return &notifier{
		settings: s,
		previous: make(map[string]float64),
		notify: func(title, body string) error {
			return beeep.Notify(title, body, "")
		},
	}
}

func (n *notifier) observe(snapshot *models.UsageSnapshot) {
	if !snapshot.OK() {
		return
	}
	current := snapshot.UsedPercent()

	n.mu.Lock()
	old, seen := n.previous[snapshot.ProviderID]
	n.previous[snapshot.ProviderID] = current
	n.mu.Unlock()

	if !seen {
		return
	}

	s := n.settings.Get()
	if !s.NotificationsEnabled {
		return
	}

	warn := s.WarnThreshold
	critical := s.CriticalThreshold

	switch {
	case current >= critical && old < critical:
		title := fmt.Sprintf("Critical usage: %s", snapshot.ProviderID)
		body := fmt.Sprintf("Usage is at %.1f%% of the rate limit", current)
		_ = n.notify(title, body)

	case current >= warn && old < warn:
		title := fmt.Sprintf("High usage: %s", snapshot.ProviderID)
		body := fmt.Sprintf("Usage is at %.1f%% of the rate limit", current)
		_ = n.notify(title, body)

	case old-current > resetDropPoints:
		title := fmt.Sprintf("Quota reset: %s", snapshot.ProviderID)
		body := "Your rate limit window has refreshed."
		_ = n.notify(title, body)
	}
}
