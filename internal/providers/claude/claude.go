// Package claude implements usage fetch strategies for Anthropic accounts:
// an OAuth strategy backed by the local credential store and a CLI fallback,
// plus a session-log cost reader used for snapshot enrichment.
package claude

import (
	"net/http"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/usage"
)

// ProviderID is the provider identifier used across the engine.
const ProviderID = "claude"

// Options configures the claude strategy chain.
type Options struct {
	ConfigDir string
	Client    *http.Client
	// CLITimeout bounds CLI fallback invocations; zero means the usage
	// package default.
	CLITimeout time.Duration
}

// Strategies returns the fallback chain for claude, highest priority first
// by convention (the fetcher re-sorts regardless).
func Strategies(opts Options) []usage.Strategy {
	return []usage.Strategy{
		NewOAuthStrategy(opts.ConfigDir, opts.Client),
		&usage.CLIStrategy{
			Binary:  "claude",
			Args:    []string{"usage", "--output-format", "json"},
			Prio:    3,
			Timeout: opts.CLITimeout,
			Parse:   parseCLIUsage,
		},
	}
}
