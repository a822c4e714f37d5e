package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

const (
	authFileName  = "auth.json"
	usageEndpoint = "https://chatgpt.com/backend-api/wham/usage"
)

// authFile mirrors the on-disk Codex credential store.
type authFile struct {
	Tokens struct {
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id,omitempty"`
	} `json:"tokens"`
}

// usagePayload is the wham/usage response. Newer backends nest the limits
// under rate_limit_status; older ones put them at the top level.
type usagePayload struct {
	Email           string        `json:"email,omitempty"`
	PlanType        string        `json:"plan_type,omitempty"`
	RateLimit       *limitDetails `json:"rate_limit,omitempty"`
	RateLimitStatus *limitDetails `json:"rate_limit_status,omitempty"`
}

type limitDetails struct {
	PlanType        string        `json:"plan_type,omitempty"`
	RateLimit       *limitDetails `json:"rate_limit,omitempty"`
	Primary         *windowInfo   `json:"primary,omitempty"`
	Secondary       *windowInfo   `json:"secondary,omitempty"`
	PrimaryWindow   *windowInfo   `json:"primary_window,omitempty"`
	SecondaryWindow *windowInfo   `json:"secondary_window,omitempty"`
}

// windowInfo carries one rate-limit window. Field names vary across backend
// revisions, so both spellings of each are decoded.
type windowInfo struct {
	UsedPercent        *float64 `json:"used_percent,omitempty"`
	RemainingPercent   *float64 `json:"remaining_percent,omitempty"`
	WindowMinutes      int      `json:"window_minutes,omitempty"`
	LimitWindowSeconds int      `json:"limit_window_seconds,omitempty"`
	ResetsAt           int64    `json:"resets_at,omitempty"` // unix seconds
	ResetAt            int64    `json:"reset_at,omitempty"`
}

// TokenStrategy fetches live usage via the ChatGPT backend using the token
// the Codex CLI stores locally.
type TokenStrategy struct {
	configDir string
	client    *http.Client
}

// NewTokenStrategy creates the live-usage strategy. A nil client uses a
// default 30s-timeout client.
func NewTokenStrategy(configDir string, client *http.Client) *TokenStrategy {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenStrategy{configDir: configDir, client: client}
}

// Name implements usage.Strategy.
func (s *TokenStrategy) Name() string { return "token" }

// Priority implements usage.Strategy.
func (s *TokenStrategy) Priority() int { return 1 }

// Available reports whether the auth file holds a token. No network I/O.
func (s *TokenStrategy) Available() bool {
	auth, err := s.loadAuth()
	return err == nil && auth.Tokens.AccessToken != ""
}

// Fetch implements usage.Strategy.
func (s *TokenStrategy) Fetch(ctx context.Context) (*models.UsageSnapshot, error) {
	auth, err := s.loadAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to load auth file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+auth.Tokens.AccessToken)
	req.Header.Set("Accept", "application/json")
	if auth.Tokens.AccountID != "" {
		req.Header.Set("chatgpt-account-id", auth.Tokens.AccountID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("unauthorized: stored token may be expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage request failed (status %d): %s", resp.StatusCode, string(body))
	}

	return parseUsagePayload(body)
}

func (s *TokenStrategy) loadAuth() (*authFile, error) {
	data, err := os.ReadFile(filepath.Join(s.configDir, authFileName))
	if err != nil {
		return nil, err
	}
	var auth authFile
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, fmt.Errorf("failed to parse auth file: %w", err)
	}
	return &auth, nil
}

func parseUsagePayload(body []byte) (*models.UsageSnapshot, error) {
	var payload usagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse usage response: %w", err)
	}

	details := payload.RateLimit
	plan := payload.PlanType
	if status := payload.RateLimitStatus; status != nil {
		if status.RateLimit != nil {
			details = status.RateLimit
		} else if status.Primary != nil || status.PrimaryWindow != nil {
			details = status
		}
		if plan == "" {
			plan = status.PlanType
		}
	}
	if details == nil {
		return nil, fmt.Errorf("usage response carried no rate limits")
	}

	snapshot := &models.UsageSnapshot{
		ProviderID:   ProviderID,
		PlanType:     plan,
		AccountEmail: payload.Email,
		FetchedAt:    time.Now(),
	}
	snapshot.Primary = windowToRate("primary", firstWindow(details.Primary, details.PrimaryWindow))
	snapshot.Secondary = windowToRate("secondary", firstWindow(details.Secondary, details.SecondaryWindow))
	if snapshot.Primary == nil && snapshot.Secondary == nil {
		return nil, fmt.Errorf("usage response carried no rate windows")
	}
	return snapshot, nil
}

func firstWindow(windows ...*windowInfo) *windowInfo {
	for _, w := range windows {
		if w != nil {
			return w
		}
	}
	return nil
}

func windowToRate(label string, w *windowInfo) *models.RateWindow {
	if w == nil {
		return nil
	}
	rate := &models.RateWindow{Label: label}

	switch {
	case w.UsedPercent != nil:
		rate.UsedPercent = *w.UsedPercent
	case w.RemainingPercent != nil:
		rate.UsedPercent = 100 - *w.RemainingPercent
	}

	rate.WindowMinutes = w.WindowMinutes
	if rate.WindowMinutes == 0 && w.LimitWindowSeconds > 0 {
		rate.WindowMinutes = w.LimitWindowSeconds / 60
	}

	reset := w.ResetsAt
	if reset == 0 {
		reset = w.ResetAt
	}
	if reset > 0 {
		rate.ResetsAt = time.Unix(reset, 0)
	}
	return rate
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}
