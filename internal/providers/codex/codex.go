// Package codex fetches OpenAI Codex usage. The primary strategy calls the
// ChatGPT backend usage endpoint with the locally stored token; the fallback
// replays rate-limit events from local session logs.
package codex

import (
	"net/http"

	"github.com/crhistian-cornejo/quotebar/internal/usage"
)

// ProviderID identifies this provider across the app.
const ProviderID = "codex"

// Options configures the codex strategy chain.
type Options struct {
	// ConfigDir is the Codex CLI config dir, normally ~/.codex.
	ConfigDir string
	// Client is used for the usage endpoint; nil means a default client.
	Client *http.Client
}

// Strategies returns the codex fetch chain in priority order.
func Strategies(opts Options) []usage.Strategy {
	return []usage.Strategy{
		NewTokenStrategy(opts.ConfigDir, opts.Client),
		NewSessionStrategy(opts.ConfigDir),
	}
}
