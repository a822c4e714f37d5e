// Package track provides transparent outbound HTTP request tracking: host
// classification, token extraction and a bounded persisted request ledger.
package track

import "strings"

// HostRule maps destination hosts to a provider id and the endpoint paths
// whose response bodies carry token counts.
type HostRule struct {
	Provider   string
	Hosts      []string
	TokenPaths []string
}

// Classifier decides which outbound requests are tracked and which provider
// they belong to. The rule table is swappable independent of the transport.
type Classifier struct {
	rules []HostRule
}

// NewClassifier builds a classifier from the given rules.
func NewClassifier(rules []HostRule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultRules returns the built-in provider host table.
func DefaultRules() []HostRule {
	return []HostRule{
		{
			Provider:   "claude",
			Hosts:      []string{"api.anthropic.com", "console.anthropic.com", "anthropic.com"},
			TokenPaths: []string{"/v1/messages", "/v1/complete"},
		},
		{
			Provider:   "codex",
			Hosts:      []string{"api.openai.com", "chatgpt.com", "openai.com"},
			TokenPaths: []string{"/v1/chat/completions", "/v1/completions", "/v1/responses"},
		},
		{
			Provider:   "gemini",
			Hosts:      []string{"generativelanguage.googleapis.com", "cloudcode-pa.googleapis.com", "googleapis.com"},
			TokenPaths: []string{":generateContent", ":streamGenerateContent", ":countTokens"},
		},
	}
}

// Provider classifies a destination host: exact match first, then substring.
// ok is false for hosts outside the table, which are not tracked at all.
func (c *Classifier) Provider(host string) (provider string, ok bool) {
	host = strings.ToLower(host)

	for _, rule := range c.rules {
		for _, h := range rule.Hosts {
			if host == h {
				return rule.Provider, true
			}
		}
	}
	for _, rule := range c.rules {
		for _, h := range rule.Hosts {
			if strings.Contains(host, h) {
				return rule.Provider, true
			}
		}
	}
	return "", false
}

// TokenBearing reports whether the path is known to carry token counts in
// its response body for the given provider.
func (c *Classifier) TokenBearing(provider, path string) bool {
	for _, rule := range c.rules {
		if rule.Provider != provider {
			continue
		}
		for _, p := range rule.TokenPaths {
			if strings.HasPrefix(p, ":") {
				if strings.HasSuffix(path, p) || strings.Contains(path, p) {
					return true
				}
				continue
			}
			if strings.HasPrefix(path, p) {
				return true
			}
		}
	}
	return false
}
