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
	"testing"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/usage"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func writeCredentials(t *testing.T, dir string, expiresAt time.Time) {
	t.Helper()
	creds := map[string]any{
		"claudeAiOauth": map[string]any{
			"accessToken":      "tok-live",
			"refreshToken":     "tok-refresh",
			"expiresAt":        expiresAt.UnixMilli(),
			"subscriptionType": "max",
		},
	}
	data, err := json.Marshal(creds)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, credentialsFile), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestAvailableRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	s := NewOAuthStrategy(dir, nil)

	if s.Available() {
		t.Error("strategy should be unavailable without a credential store")
	}

	writeCredentials(t, dir, time.Now().Add(time.Hour))
	if !s.Available() {
		t.Error("strategy should be available once credentials exist")
	}
}

func TestOAuthFetch(t *testing.T) {
	dir := t.TempDir()
	writeCredentials(t, dir, time.Now().Add(time.Hour))

	usageBody := `{
		"five_hour": {"utilization": 42.5, "resets_at": "2026-09-01T12:00:00Z"},
		"seven_day": {"utilization": 12.0, "resets_at": "2026-09-04T00:00:00Z"}
	}`

	client := &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.Contains(req.URL.Path, "/api/oauth/usage"):
				if got := req.Header.Get("Authorization"); got != "Bearer tok-live" {
					t.Errorf("Authorization = %q, want the stored token", got)
				}
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(usageBody)),
				}, nil
			case strings.Contains(req.URL.Path, "/api/oauth/profile"):
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"account":{"email":"dev@example.com"}}`)),
				}, nil
			default:
				t.Errorf("unexpected request to %s", req.URL)
				return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
			}
		},
	}}

	s := NewOAuthStrategy(dir, client)
	snap, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if snap.Primary == nil || snap.Primary.UsedPercent != 42.5 {
		t.Errorf("Primary = %+v, want 42.5%% used", snap.Primary)
	}
	if snap.Secondary == nil || snap.Secondary.UsedPercent != 12.0 {
		t.Errorf("Secondary = %+v, want 12%% used", snap.Secondary)
	}
	if snap.PlanType != "max" {
		t.Errorf("PlanType = %q, want max", snap.PlanType)
	}
	if snap.AccountEmail != "dev@example.com" {
		t.Errorf("AccountEmail = %q, want dev@example.com", snap.AccountEmail)
	}
	if snap.Primary.ResetsAt.IsZero() {
		t.Error("Primary.ResetsAt should parse")
	}
}

func TestOAuthFetchRefreshesExpiredToken(t *testing.T) {
	dir := t.TempDir()
	writeCredentials(t, dir, time.Now().Add(-time.Hour))

	refreshed := false
	client := &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.Contains(req.URL.Host, "console.anthropic.com"):
				refreshed = true
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"access_token":"tok-new","expires_in":3600}`)),
				}, nil
			case strings.Contains(req.URL.Path, "/api/oauth/usage"):
				if got := req.Header.Get("Authorization"); got != "Bearer tok-new" {
					t.Errorf("Authorization = %q, want the refreshed token", got)
				}
				return &http.Response{
					StatusCode: 200,
					Body:       io.NopCloser(strings.NewReader(`{"five_hour":{"utilization":1}}`)),
				}, nil
			default:
				return &http.Response{StatusCode: 404, Body: io.NopCloser(strings.NewReader(""))}, nil
			}
		},
	}}

	s := NewOAuthStrategy(dir, client)
	if _, err := s.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if !refreshed {
		t.Error("expired token should trigger a refresh")
	}
}

func TestParseUsageResponseRejectsEmpty(t *testing.T) {
	if _, err := parseUsageResponse([]byte(`{}`)); err == nil {
		t.Error("a response without rate windows should be rejected")
	}
	if _, err := parseUsageResponse([]byte(`garbage`)); err == nil {
		t.Error("malformed JSON should be rejected")
	}
}

func TestParseCLIUsage(t *testing.T) {
	snap, err := parseCLIUsage([]byte(`{"five_hour":{"utilization":77.0}}`))
	if err != nil {
		t.Fatalf("parseCLIUsage() failed: %v", err)
	}
	if snap.Primary == nil || snap.Primary.UsedPercent != 77 {
		t.Errorf("Primary = %+v, want 77%% used", snap.Primary)
	}
}

func TestCostReaderSumsToday(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "projects", "proj-a")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	yesterday := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	lines := []string{
		fmt.Sprintf(`{"timestamp":%q,"costUSD":0.25}`, now),
		fmt.Sprintf(`{"timestamp":%q,"costUSD":0.50}`, now),
		fmt.Sprintf(`{"timestamp":%q,"costUSD":99.0}`, yesterday),
		// token-based estimate: 1M input sonnet tokens = $3
		fmt.Sprintf(`{"timestamp":%q,"message":{"model":"claude-sonnet-4","usage":{"input_tokens":1000000,"output_tokens":0}}}`, now),
		`not json`,
	}
	path := filepath.Join(logDir, "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}

	reader := NewCostReader(dir)
	cost, err := reader.Cost(context.Background())
	if err != nil {
		t.Fatalf("Cost() failed: %v", err)
	}

	want := 0.25 + 0.50 + 3.0
	if diff := cost.TodayUSD - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("TodayUSD = %v, want %v", cost.TodayUSD, want)
	}
}

func TestCostReaderNoLogs(t *testing.T) {
	reader := NewCostReader(t.TempDir())
	if _, err := reader.Cost(context.Background()); err == nil {
		t.Error("missing session logs should surface an error (enrichment skipped)")
	}
}

func TestStrategiesOrder(t *testing.T) {
	chain := Strategies(Options{ConfigDir: t.TempDir(), CLITimeout: 5 * time.Second})
	if len(chain) != 2 {
		t.Fatalf("Strategies() returned %d strategies, want 2", len(chain))
	}
	if chain[0].Priority() >= chain[1].Priority() {
		t.Error("oauth strategy should outrank the CLI fallback")
	}

	cli, ok := chain[1].(*usage.CLIStrategy)
	if !ok {
		t.Fatalf("chain[1] is %T, want *usage.CLIStrategy", chain[1])
	}
	if cli.Timeout != 5*time.Second {
		t.Errorf("CLI timeout = %s, want the configured 5s", cli.Timeout)
	}
}
