package usage

import (
	"context"
	"fmt"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// Fetcher executes one provider's fallback chain: strategies in ascending
// priority order, capability check before any I/O, first success wins.
type Fetcher struct {
	providerID string
	strategies []Strategy
}

// NewFetcher builds a fetcher for one provider. preferredStrategy, when
// non-empty, is tried first regardless of declared priority.
func NewFetcher(providerID string, strategies []Strategy, preferredStrategy string) *Fetcher {
	chain := sortByPriority(strategies)
	chain = preferred(chain, preferredStrategy)
	return &Fetcher{providerID: providerID, strategies: chain}
}

// ProviderID returns the provider this fetcher serves.
func (f *Fetcher) ProviderID() string {
	return f.providerID
}

// StrategyNames returns the chain in the order it will be tried.
func (f *Fetcher) StrategyNames() []string {
	names := make([]string, len(f.strategies))
	for i, s := range f.strategies {
		names[i] = s.Name()
	}
	return names
}

// Fetch runs the fallback chain and always returns a snapshot: the first
// successful strategy's result, or an error snapshot when the chain is
// exhausted. It never returns nil.
func (f *Fetcher) Fetch(ctx context.Context) *models.UsageSnapshot {
	var lastErr error
	eligible := 0

	for _, strategy := range f.strategies {
		if !strategy.Available() {
			logger.Debug("strategy not available, skipping",
				"provider", f.providerID, "strategy", strategy.Name())
			continue
		}
		eligible++

		snapshot, err := strategy.Fetch(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", strategy.Name(), err)
			logger.Warn("strategy failed, falling back",
				"provider", f.providerID, "strategy", strategy.Name(), "error", err)
			continue
		}
		if snapshot == nil {
			lastErr = fmt.Errorf("%s: returned no snapshot", strategy.Name())
			continue
		}

		out := *snapshot
		out.ProviderID = f.providerID
		out.Source = strategy.Name()
		return &out
	}

	if eligible == 0 {
		return models.ErrorSnapshot(f.providerID, "not configured")
	}
	return models.ErrorSnapshot(f.providerID, lastErr.Error())
}
