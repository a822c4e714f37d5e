// Package usage provides the fetch strategy model, the fallback fetcher and
// the snapshot cache that drives refreshes.
package usage

import (
	"context"
	"sort"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// Strategy is one concrete way of obtaining a provider's usage data.
// Implementations are stateless across invocations except for any credential
// cache they own internally.
type Strategy interface {
	// Name identifies the strategy (e.g. "oauth", "cli").
	Name() string
	// Priority orders strategies within a chain; lower is tried first.
	Priority() int
	// Available is the capability check, evaluated before any network or
	// process I/O is attempted.
	Available() bool
	// Fetch obtains one usage snapshot or fails.
	Fetch(ctx context.Context) (*models.UsageSnapshot, error)
}

// sortByPriority returns the strategies in ascending priority order without
// mutating the input.
func sortByPriority(strategies []Strategy) []Strategy {
	sorted := append([]Strategy(nil), strategies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}

// preferred moves the named strategy to the front of the chain, keeping the
// rest in priority order as fallbacks. Unknown names leave the chain as is.
func preferred(strategies []Strategy, name string) []Strategy {
	if name == "" {
		return strategies
	}
	for i, s := range strategies {
		if s.Name() == name {
			out := make([]Strategy, 0, len(strategies))
			out = append(out, s)
			out = append(out, strategies[:i]...)
			out = append(out, strategies[i+1:]...)
			return out
		}
	}
	return strategies
}
