package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

const sessionsDirName = "sessions"

// sessionEvent is one JSONL record from a Codex session log.
type sessionEvent struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// tokenCountPayload is the payload of a token_count event. The CLI embeds
// the backend rate-limit state it last saw.
type tokenCountPayload struct {
	RateLimits *sessionRateLimits `json:"rate_limits,omitempty"`
}

type sessionRateLimits struct {
	Primary   *sessionBucket `json:"primary,omitempty"`
	Secondary *sessionBucket `json:"secondary,omitempty"`
	PlanType  *string        `json:"plan_type,omitempty"`
}

type sessionBucket struct {
	UsedPercent   float64 `json:"used_percent"`
	WindowMinutes int     `json:"window_minutes"`
	ResetsAt      int64   `json:"resets_at"` // unix seconds
}

// SessionStrategy derives usage from the newest local session log. It needs
// no network and no token, but the data is only as fresh as the last CLI
// turn.
type SessionStrategy struct {
	configDir string
}

// NewSessionStrategy creates the session-log fallback strategy.
func NewSessionStrategy(configDir string) *SessionStrategy {
	return &SessionStrategy{configDir: configDir}
}

// Name implements usage.Strategy.
func (s *SessionStrategy) Name() string { return "session" }

// Priority implements usage.Strategy.
func (s *SessionStrategy) Priority() int { return 2 }

// Available reports whether any session log exists.
func (s *SessionStrategy) Available() bool {
	path, err := latestSessionFile(s.sessionsDir())
	return err == nil && path != ""
}

// Fetch implements usage.Strategy.
func (s *SessionStrategy) Fetch(ctx context.Context) (*models.UsageSnapshot, error) {
	path, err := latestSessionFile(s.sessionsDir())
	if err != nil {
		return nil, err
	}

	limits, err := lastRateLimits(ctx, path)
	if err != nil {
		return nil, err
	}

	snapshot := &models.UsageSnapshot{
		ProviderID: ProviderID,
		FetchedAt:  time.Now(),
	}
	if limits.PlanType != nil {
		snapshot.PlanType = *limits.PlanType
	}
	snapshot.Primary = bucketToRate("primary", limits.Primary)
	snapshot.Secondary = bucketToRate("secondary", limits.Secondary)
	if snapshot.Primary == nil && snapshot.Secondary == nil {
		return nil, fmt.Errorf("session log carried no rate windows")
	}
	return snapshot, nil
}

func (s *SessionStrategy) sessionsDir() string {
	return filepath.Join(s.configDir, sessionsDirName)
}

// latestSessionFile returns the most recently modified .jsonl under the
// sessions tree, or an error when none exist.
func latestSessionFile(root string) (string, error) {
	var latest string
	var latestMod time.Time

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latestMod) {
			latest = path
			latestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("no session logs under %s", root)
	}
	return latest, nil
}

// lastRateLimits scans the whole file and keeps the final token_count event
// carrying rate limits; later events supersede earlier ones.
func lastRateLimits(ctx context.Context, path string) (*sessionRateLimits, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var last *sessionRateLimits
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var event sessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Type != "event_msg" && event.Type != "token_count" {
			continue
		}
		var payload tokenCountPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			continue
		}
		if payload.RateLimits != nil {
			last = payload.RateLimits
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session log: %w", err)
	}
	if last == nil {
		return nil, fmt.Errorf("no rate-limit events in %s", path)
	}
	return last, nil
}

func bucketToRate(label string, bucket *sessionBucket) *models.RateWindow {
	if bucket == nil {
		return nil
	}
	rate := &models.RateWindow{
		Label:         label,
		UsedPercent:   bucket.UsedPercent,
		WindowMinutes: bucket.WindowMinutes,
	}
	if bucket.ResetsAt > 0 {
		rate.ResetsAt = time.Unix(bucket.ResetsAt, 0)
	}
	return rate
}
