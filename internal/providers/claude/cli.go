package claude

import (
	"fmt"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// parseCLIUsage parses the JSON usage report printed by the claude CLI. The
// CLI emits the same window shape as the OAuth usage API.
func parseCLIUsage(output []byte) (*models.UsageSnapshot, error) {
	usage, err := parseUsageResponse(output)
	if err != nil {
		return nil, fmt.Errorf("cli output: %w", err)
	}

	snapshot := &models.UsageSnapshot{
		ProviderID: ProviderID,
		FetchedAt:  time.Now(),
	}
	if usage.FiveHour != nil {
		snapshot.Primary = bucketToWindow("5h", 5*60, usage.FiveHour)
	}
	if usage.SevenDay != nil {
		snapshot.Secondary = bucketToWindow("7d", 7*24*60, usage.SevenDay)
	}
	return snapshot, nil
}
