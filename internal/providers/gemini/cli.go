package gemini

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// parseCLIUsage parses the gemini CLI usage output: the same per-model
// quota shape the Cloud Code API returns.
func parseCLIUsage(output []byte) (*models.UsageSnapshot, error) {
	var quotas modelsResponse
	if err := json.Unmarshal(output, &quotas); err != nil {
		return nil, fmt.Errorf("failed to parse CLI output: %w", err)
	}
	snapshot, err := quotaToSnapshot(&quotas)
	if err != nil {
		return nil, err
	}
	snapshot.FetchedAt = time.Now()
	return snapshot, nil
}
