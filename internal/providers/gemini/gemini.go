// Package gemini fetches Gemini usage through the Cloud Code quota API,
// falling back to the gemini CLI.
package gemini

import (
	"net/http"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/usage"
)

// ProviderID identifies this provider across the app.
const ProviderID = "gemini"

// Options configures the gemini strategy chain.
type Options struct {
	// ConfigDir is the Gemini CLI config dir, normally ~/.gemini.
	ConfigDir string
	// ClientID and ClientSecret are the OAuth client credentials used for
	// refresh-token exchange.
	ClientID     string
	ClientSecret string
	// Client is used for quota requests; nil means a default client.
	Client *http.Client
	// CLITimeout bounds CLI fallback invocations; zero means the usage
	// package default.
	CLITimeout time.Duration
}

// Strategies returns the gemini fetch chain in priority order.
func Strategies(opts Options) []usage.Strategy {
	return []usage.Strategy{
		NewOAuthStrategy(opts),
		&usage.CLIStrategy{
			Binary:  "gemini",
			Args:    []string{"usage", "--format", "json"},
			Prio:    2,
			Timeout: opts.CLITimeout,
			Parse:   parseCLIUsage,
		},
	}
}
