package claude

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

// sessionLine is one JSONL record from a Claude CLI session log. Only the
// fields needed for cost derivation are decoded.
type sessionLine struct {
	Timestamp string   `json:"timestamp"`
	CostUSD   *float64 `json:"costUSD"`
	Message   *struct {
		Model string `json:"model"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// perMTok prices used to estimate spend when a log line carries token usage
// but no explicit cost. Estimates are API-equivalent, not subscription
// charges.
var fallbackPricing = map[string]struct{ in, out float64 }{
	"opus":   {15.0, 75.0},
	"sonnet": {3.0, 15.0},
	"haiku":  {0.80, 4.0},
}

// CostReader derives today's spend from local CLI session logs.
type CostReader struct {
	configDir string
}

// NewCostReader creates a cost reader over the given Claude config dir.
func NewCostReader(configDir string) *CostReader {
	return &CostReader{configDir: configDir}
}

// Cost implements usage.CostSource: it sums explicit costUSD entries from
// today's session logs, estimating from token counts when absent.
func (r *CostReader) Cost(ctx context.Context) (*models.CostInfo, error) {
	projectsDir := filepath.Join(r.configDir, "projects")
	entries, err := collectSessionFiles(projectsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no session logs under %s", projectsDir)
	}

	dayStart := time.Now().Truncate(24 * time.Hour)
	var total float64

	for _, path := range entries {
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

func collectSessionFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
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
	return files, nil
}

func sumFileCost(path string, dayStart time.Time) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	var total float64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		var line sessionLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, line.Timestamp)
		if err != nil || ts.Before(dayStart) {
			continue
		}
		total += lineCost(&line)
	}
	return total
}

func lineCost(line *sessionLine) float64 {
	if line.CostUSD != nil {
		return *line.CostUSD
	}
	if line.Message == nil {
		return 0
	}
	price, ok := matchPricing(line.Message.Model)
	if !ok {
		return 0
	}
	in := float64(line.Message.Usage.InputTokens) / 1e6 * price.in
	out := float64(line.Message.Usage.OutputTokens) / 1e6 * price.out
	return in + out
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
