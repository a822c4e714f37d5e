// Package models defines data structures and domain types.
package models

import "time"

// ProviderStatusLevel is the normalized operational-health classification
// derived from heterogeneous upstream status-page formats.
type ProviderStatusLevel int

const (
	// StatusOperational indicates all systems are reported healthy.
	StatusOperational ProviderStatusLevel = iota
	// StatusDegraded indicates minor degradation.
	StatusDegraded
	// StatusPartialOutage indicates a partial service outage.
	StatusPartialOutage
	// StatusMajorOutage indicates a major service outage.
	StatusMajorOutage
	// StatusMaintenance indicates planned maintenance.
	StatusMaintenance
	// StatusUnknown indicates the status could not be determined.
	StatusUnknown
)

// String returns a human-readable label for the level.
func (l ProviderStatusLevel) String() string {
	switch l {
	case StatusOperational:
		return "operational"
	case StatusDegraded:
		return "degraded"
	case StatusPartialOutage:
		return "partial outage"
	case StatusMajorOutage:
		return "major outage"
	case StatusMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Severity orders levels by operational impact for picking the worst of a
// set of incidents. Maintenance and Unknown rank below real outages.
func (l ProviderStatusLevel) Severity() int {
	switch l {
	case StatusMajorOutage:
		return 4
	case StatusPartialOutage:
		return 3
	case StatusDegraded:
		return 2
	case StatusMaintenance:
		return 1
	default:
		return 0
	}
}

// ProviderStatus is one normalized reading of a provider's status page.
// The live instance per provider is replaced wholesale on each poll.
type ProviderStatus struct {
	FetchedAt       time.Time           `json:"fetchedAt"`
	ProviderID      string              `json:"providerId"`
	Description     string              `json:"description"`
	IncidentSummary string              `json:"incidentSummary,omitempty"`
	PageURL         string              `json:"pageUrl,omitempty"`
	Level           ProviderStatusLevel `json:"level"`
	ActiveIncidents int                 `json:"activeIncidents"`
}
