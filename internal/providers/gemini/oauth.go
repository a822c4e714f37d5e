package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

const (
	credentialsFile = "oauth_creds.json"

	googleOAuthURL   = "https://oauth2.googleapis.com/token"
	userInfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// quotaEndpoints are tried in order until one answers.
var quotaEndpoints = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
}

var quotaHeaders = map[string]string{
	"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
}

// Subscription tiers inferred from quota reset cadence: paid accounts reset
// hourly, free accounts daily.
const (
	tierFree      = "FREE"
	tierPro       = "PRO"
	tierUnknown   = "UNKNOWN"
	tierThreshold = 6 * time.Hour
)

// credentials mirrors the on-disk Gemini CLI credential store.
type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"` // unix milliseconds
}

func (c *credentials) expired() bool {
	if c.ExpiryDate == 0 {
		return false
	}
	expiry := time.UnixMilli(c.ExpiryDate)
	// Refresh a little early so a token never dies mid-request
	return time.Now().Add(5 * time.Minute).After(expiry)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// modelsResponse is the fetchAvailableModels shape: per-model quota info
// with a remaining fraction and a reset time.
type modelsResponse struct {
	Models map[string]struct {
		DisplayName string `json:"displayName"`
		QuotaInfo   struct {
			RemainingFraction float64 `json:"remainingFraction"`
			ResetTime         string  `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// OAuthStrategy fetches usage through the Cloud Code quota API using the
// credential store written by the Gemini CLI.
type OAuthStrategy struct {
	configDir    string
	clientID     string
	clientSecret string
	client       *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewOAuthStrategy creates the OAuth strategy. A nil client in opts uses a
// default 30s-timeout client.
func NewOAuthStrategy(opts Options) *OAuthStrategy {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthStrategy{
		configDir:    opts.ConfigDir,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		client:       client,
	}
}

// Name implements usage.Strategy.
func (s *OAuthStrategy) Name() string { return "oauth" }

// Priority implements usage.Strategy.
func (s *OAuthStrategy) Priority() int { return 1 }

// Available reports whether the credential store exists. No network I/O.
func (s *OAuthStrategy) Available() bool {
	creds, err := s.loadCredentials()
	return err == nil && (creds.AccessToken != "" || creds.RefreshToken != "")
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

	quotas, err := s.fetchQuota(ctx, token)
	if err != nil {
		return nil, err
	}

	snapshot, err := quotaToSnapshot(quotas)
	if err != nil {
		return nil, err
	}

	// Account email is best-effort; usage data stands on its own.
	if email, err := s.fetchEmail(ctx, token); err == nil {
		snapshot.AccountEmail = email
	}

	return snapshot, nil
}

func (s *OAuthStrategy) loadCredentials() (*credentials, error) {
	data, err := os.ReadFile(filepath.Join(s.configDir, credentialsFile))
	if err != nil {
		return nil, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return &creds, nil
}

// accessToken returns a valid token, exchanging the refresh token when the
// stored one is expired.
func (s *OAuthStrategy) accessToken(ctx context.Context, creds *credentials) (string, error) {
	s.mu.Lock()
	if s.token != "" && time.Now().Add(5*time.Minute).Before(s.expires) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	if creds.AccessToken != "" && !creds.expired() {
		return creds.AccessToken, nil
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token available")
	}

	data := url.Values{}
	data.Set("client_id", s.clientID)
	data.Set("client_secret", s.clientSecret)
	data.Set("refresh_token", creds.RefreshToken)
	data.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleOAuthURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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

// fetchQuota tries each quota endpoint in turn.
func (s *OAuthStrategy) fetchQuota(ctx context.Context, token string) (*modelsResponse, error) {
	var lastErr error

	for _, endpoint := range quotaEndpoints {
		quotas, err := s.fetchQuotaFrom(ctx, endpoint, token)
		if err == nil {
			return quotas, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *OAuthStrategy) fetchQuotaFrom(ctx context.Context, endpoint, token string) (*modelsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"/v1internal:fetchAvailableModels", strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create quota request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range quotaHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quota request failed: %w", err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: access token may be expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quota request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var quotas modelsResponse
	if err := json.Unmarshal(body, &quotas); err != nil {
		return nil, fmt.Errorf("failed to parse quota response: %w", err)
	}
	return &quotas, nil
}

// quotaToSnapshot reduces per-model quotas to one snapshot: the most-used
// Gemini model becomes the primary window.
func quotaToSnapshot(quotas *modelsResponse) (*models.UsageSnapshot, error) {
	var worst *models.RateWindow

	for name, data := range quotas.Models {
		if !strings.Contains(strings.ToLower(name), "gemini") {
			continue
		}
		used := (1 - data.QuotaInfo.RemainingFraction) * 100
		if used < 0 {
			used = 0
		}
		window := &models.RateWindow{
			Label:       "quota",
			UsedPercent: used,
		}
		if data.QuotaInfo.ResetTime != "" {
			if t, err := time.Parse(time.RFC3339, data.QuotaInfo.ResetTime); err == nil {
				window.ResetsAt = t
			}
		}
		if worst == nil || window.UsedPercent > worst.UsedPercent {
			worst = window
		}
	}
	if worst == nil {
		return nil, fmt.Errorf("quota response carried no gemini models")
	}

	return &models.UsageSnapshot{
		ProviderID: ProviderID,
		PlanType:   detectTier(worst.ResetsAt),
		Primary:    worst,
		FetchedAt:  time.Now(),
	}, nil
}

// detectTier infers the subscription tier from quota reset cadence: paid
// accounts reset within hours, free accounts daily.
func detectTier(resetTime time.Time) string {
	if resetTime.IsZero() {
		return tierUnknown
	}
	duration := time.Until(resetTime)
	if duration < 0 {
		if duration > -time.Hour {
			return tierPro
		}
		return tierUnknown
	}
	if duration <= tierThreshold {
		return tierPro
	}
	return tierFree
}

func (s *OAuthStrategy) fetchEmail(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request failed (status %d)", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	return info.Email, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
}
