package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// perMTok prices used to estimate spend from session token counts. The
// session logs carry no explicit cost, so every figure is an API-equivalent
// estimate.
var fallbackPricing = map[string]struct{ in, out float64 }{
	"gpt-5":   {1.25, 10.0},
	"gpt-4.1": {2.0, 8.0},
	"o3":      {2.0, 8.0},
	"o4-mini": {1.1, 4.4},
}

// costEvent decodes only the session-log fields the cost path needs.
type costEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Payload   struct {
		Model string `json:"model,omitempty"`
		Info  *struct {
			LastTokenUsage struct {
				InputTokens  int64 `json:"input_tokens"`
				OutputTokens int64 `json:"output_tokens"`
			} `json:"last_token_usage"`
		} `json:"info,omitempty"`
	} `json:"payload"`
}

// CostReader estimates today's spend from local Codex session logs.
type CostReader struct {
	configDir string
}

// NewCostReader creates a cost reader over the given Codex config dir.
func NewCostReader(configDir string) *CostReader {
	return &CostReader{configDir: configDir}
}

// Cost implements usage.CostSource: it sums per-turn token usage from
// today's session logs and prices it against the model each session last
// declared.
func (r *CostReader) Cost(ctx context.Context) (*models.CostInfo, error) {
	sessionsDir := filepath.Join(r.configDir, sessionsDirName)

	var files []string
	err := filepath.WalkDir(sessionsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() && filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no session logs under %s", sessionsDir)
	}

	dayStart := time.Now().Truncate(24 * time.Hour)
	var total float64

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Skip files untouched today; their entries cannot contribute.
		if info, err := os.Stat(path); err != nil || info.ModTime().Before(dayStart) {
			continue
		}
		total += sumFileCost(path, dayStart)
	}

	return &models.CostInfo{
		TodayUSD:  total,
		UpdatedAt: time.Now(),
	}, nil
}

func sumFileCost(path string, dayStart time.Time) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	var total float64
	model := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		var event costEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		// session_meta and turn_context events declare the model for the
		// token counts that follow.
		if event.Payload.Model != "" {
			model = event.Payload.Model
		}
		if event.Payload.Info == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, event.Timestamp)
		if err != nil || ts.Before(dayStart) {
			continue
		}
		price, ok := matchPricing(model)
		if !ok {
			continue
		}
		usage := event.Payload.Info.LastTokenUsage
		total += float64(usage.InputTokens)/1e6*price.in +
			float64(usage.OutputTokens)/1e6*price.out
	}
	return total
}

func matchPricing(model string) (struct{ in, out float64 }, bool) {
	lower := strings.ToLower(model)
	for family, price := range fallbackPricing {
		if strings.Contains(lower, family) {
			return price, true
		}
	}
	return struct{ in, out float64 }{}, false
}
