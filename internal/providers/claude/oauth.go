package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

const (
	credentialsFile = ".credentials.json"

	tokenEndpoint = "https://console.anthropic.com/v1/oauth/token"
	usageEndpoint = "https://api.anthropic.com/api/oauth/usage"

	// Public OAuth client id used by the Claude Code credential flow.
	oauthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"

	betaHeader = "oauth-2025-04-20"
)

// credentials mirrors the on-disk Claude credential store.
type credentials struct {
	ClaudeAiOauth struct {
		AccessToken      string `json:"accessToken"`
		RefreshToken     string `json:"refreshToken"`
		ExpiresAt        int64  `json:"expiresAt"` // unix milliseconds
		SubscriptionType string `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

func (c *credentials) expired() bool {
	if c.ClaudeAiOauth.ExpiresAt == 0 {
		return false
	}
	expiry := time.UnixMilli(c.ClaudeAiOauth.ExpiresAt)
	// Refresh a little early so a token never dies mid-request
	return time.Now().Add(5 * time.Minute).After(expiry)
}

// usageResponse is the OAuth usage API shape: utilization buckets per
// rate-limit window.
type usageResponse struct {
	FiveHour *usageBucket `json:"five_hour"`
	SevenDay *usageBucket `json:"seven_day"`
}

type usageBucket struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// OAuthStrategy fetches usage through the Anthropic OAuth usage API using
// the credential store written by the Claude CLI.
type OAuthStrategy struct {
	configDir string
	client    *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewOAuthStrategy creates the OAuth strategy. A nil client uses a default
// 30s-timeout client.
func NewOAuthStrategy(configDir string, client *http.Client) *OAuthStrategy {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthStrategy{configDir: configDir, client: client}
}

// Name implements usage.Strategy.
func (s *OAuthStrategy) Name() string { return "oauth" }

// Priority implements usage.Strategy.
func (s *OAuthStrategy) Priority() int { return 1 }

// Available reports whether the credential store exists. No network I/O.
func (s *OAuthStrategy) Available() bool {
	creds, err := s.loadCredentials()
	return err == nil && creds.ClaudeAiOauth.AccessToken != ""
}

// Fetch implements usage.Strategy.
func (s *OAuthStrategy) Fetch(ctx context.Context) (*models.UsageSnapshot, error) {
	creds, err := s.loadCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	token, err := s.accessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	usage, err := s.fetchUsage(ctx, token)
	if err != nil {
		return nil, err
	}

	snapshot := &models.UsageSnapshot{
		ProviderID: ProviderID,
		PlanType:   creds.ClaudeAiOauth.SubscriptionType,
		FetchedAt:  time.Now(),
	}
	if usage.FiveHour != nil {
		snapshot.Primary = bucketToWindow("5h", 5*60, usage.FiveHour)
	}
	if usage.SevenDay != nil {
		snapshot.Secondary = bucketToWindow("7d", 7*24*60, usage.SevenDay)
	}

	// Account email is best-effort; usage data stands on its own.
	if email, err := s.fetchEmail(ctx, token); err == nil {
		snapshot.AccountEmail = email
	}

	return snapshot, nil
}

func bucketToWindow(label string, windowMinutes int, bucket *usageBucket) *models.RateWindow {
	w := &models.RateWindow{
		Label:         label,
		UsedPercent:   bucket.Utilization,
		WindowMinutes: windowMinutes,
	}
	if bucket.ResetsAt != "" {
		if t, err := time.Parse(time.RFC3339, bucket.ResetsAt); err == nil {
			w.ResetsAt = t
		}
	}
	return w
}

func (s *OAuthStrategy) credentialsPath() string {
	return filepath.Join(s.configDir, credentialsFile)
}

func (s *OAuthStrategy) loadCredentials() (*credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if err != nil {
		return nil, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return &creds, nil
}

// accessToken returns a valid token, refreshing through the OAuth endpoint
// when the stored one is expired.
func (s *OAuthStrategy) accessToken(ctx context.Context, creds *credentials) (string, error) {
	s.mu.Lock()
	if s.token != "" && time.Now().Add(5*time.Minute).Before(s.expires) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	if !creds.expired() {
		return creds.ClaudeAiOauth.AccessToken, nil
	}
	if creds.ClaudeAiOauth.RefreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token available")
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": creds.ClaudeAiOauth.RefreshToken,
		"client_id":     oauthClientID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	s.mu.Lock()
	s.token = tr.AccessToken
	s.expires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	s.mu.Unlock()

	return tr.AccessToken, nil
}

func (s *OAuthStrategy) fetchUsage(ctx context.Context, token string) (*usageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: access token may be expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage request failed (status %d): %s", resp.StatusCode, string(body))
	}

	return parseUsageResponse(body)
}

func parseUsageResponse(body []byte) (*usageResponse, error) {
	var usage usageResponse
	if err := json.Unmarshal(body, &usage); err != nil {
		return nil, fmt.Errorf("failed to parse usage response: %w", err)
	}
	if usage.FiveHour == nil && usage.SevenDay == nil {
		return nil, fmt.Errorf("usage response carried no rate windows")
	}
	return &usage, nil
}

func (s *OAuthStrategy) fetchEmail(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.anthropic.com/api/oauth/profile", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile request failed (status %d)", resp.StatusCode)
	}

	var profile struct {
		Account struct {
			Email string `json:"email"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", err
	}
	return profile.Account.Email, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}
