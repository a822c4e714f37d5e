// Package status polls provider status pages and normalizes two upstream
// formats: the Statuspage API and Google-style incident lists.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// Source fetches the current status of one provider.
type Source interface {
	// PageURL is the human-facing status page.
	PageURL() string
	// Fetch retrieves and normalizes the current status.
	Fetch(ctx context.Context) (*models.ProviderStatus, error)
}

// StatuspageSource reads the Statuspage v2 API (status.anthropic.com,
// status.openai.com).
type StatuspageSource struct {
	providerID string
	baseURL    string
	client     *http.Client
}

// NewStatuspageSource creates a source over a Statuspage site. baseURL is
// the page root without a trailing slash.
func NewStatuspageSource(providerID, baseURL string, client *http.Client) *StatuspageSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &StatuspageSource{providerID: providerID, baseURL: baseURL, client: client}
}

// PageURL implements Source.
func (s *StatuspageSource) PageURL() string { return s.baseURL }

type statuspageStatus struct {
	Status struct {
		Indicator   string `json:"indicator"`
		Description string `json:"description"`
	} `json:"status"`
}

type statuspageIncidents struct {
	Incidents []struct {
		Name   string `json:"name"`
		Impact string `json:"impact"`
	} `json:"incidents"`
}

// Fetch implements Source.
func (s *StatuspageSource) Fetch(ctx context.Context) (*models.ProviderStatus, error) {
	var page statuspageStatus
	if err := getJSON(ctx, s.client, s.baseURL+"/api/v2/status.json", &page); err != nil {
		return nil, fmt.Errorf("status fetch failed: %w", err)
	}

	result := &models.ProviderStatus{
		ProviderID:  s.providerID,
		Level:       indicatorToLevel(page.Status.Indicator),
		Description: page.Status.Description,
		PageURL:     s.baseURL,
		FetchedAt:   time.Now(),
	}

	// Incident details are best-effort; the indicator stands on its own.
	var incidents statuspageIncidents
	if err := getJSON(ctx, s.client, s.baseURL+"/api/v2/incidents/unresolved.json", &incidents); err != nil {
		logger.Debug("unresolved incidents fetch failed", "provider", s.providerID, "error", err)
		return result, nil
	}
	result.ActiveIncidents = len(incidents.Incidents)
	if len(incidents.Incidents) > 0 {
		result.IncidentSummary = incidents.Incidents[0].Name
	}
	return result, nil
}

func indicatorToLevel(indicator string) models.ProviderStatusLevel {
	switch strings.ToLower(indicator) {
	case "none":
		return models.StatusOperational
	case "minor":
		return models.StatusDegraded
	case "major":
		return models.StatusPartialOutage
	case "critical":
		return models.StatusMajorOutage
	case "maintenance":
		return models.StatusMaintenance
	default:
		return models.StatusUnknown
	}
}

// IncidentListSource reads a Google-style incidents.json feed and filters
// it to one product.
type IncidentListSource struct {
	providerID string
	feedURL    string
	pageURL    string
	product    string
	client     *http.Client
}

// NewIncidentListSource creates a source over an incident feed. product is
// matched against each incident's affected product titles.
func NewIncidentListSource(providerID, feedURL, pageURL, product string, client *http.Client) *IncidentListSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &IncidentListSource{
		providerID: providerID,
		feedURL:    feedURL,
		pageURL:    pageURL,
		product:    product,
		client:     client,
	}
}

// PageURL implements Source.
func (s *IncidentListSource) PageURL() string { return s.pageURL }

type feedIncident struct {
	Begin            string `json:"begin"`
	End              string `json:"end"`
	ExternalDesc     string `json:"external_desc"`
	Severity         string `json:"severity"`
	AffectedProducts []struct {
		Title string `json:"title"`
	} `json:"affected_products"`
}

func (i *feedIncident) resolved() bool {
	return i.End != ""
}

func (i *feedIncident) affects(product string) bool {
	needle := strings.ToLower(product)
	for _, p := range i.AffectedProducts {
		if strings.Contains(strings.ToLower(p.Title), needle) {
			return true
		}
	}
	return false
}

// Fetch implements Source.
func (s *IncidentListSource) Fetch(ctx context.Context) (*models.ProviderStatus, error) {
	var incidents []feedIncident
	if err := getJSON(ctx, s.client, s.feedURL, &incidents); err != nil {
		return nil, fmt.Errorf("incident feed fetch failed: %w", err)
	}

	result := &models.ProviderStatus{
		ProviderID: s.providerID,
		Level:      models.StatusOperational,
		PageURL:    s.pageURL,
		FetchedAt:  time.Now(),
	}

	// Keep the most severe unresolved incident touching our product.
	for i := range incidents {
		inc := &incidents[i]
		if inc.resolved() || !inc.affects(s.product) {
			continue
		}
		level := severityToLevel(inc.Severity)
		result.ActiveIncidents++
		if level.Severity() > result.Level.Severity() {
			result.Level = level
			result.IncidentSummary = inc.ExternalDesc
			result.Description = inc.ExternalDesc
		}
	}
	return result, nil
}

func severityToLevel(severity string) models.ProviderStatusLevel {
	switch strings.ToLower(severity) {
	case "low":
		return models.StatusDegraded
	case "medium":
		return models.StatusPartialOutage
	case "high":
		return models.StatusMajorOutage
	default:
		return models.StatusDegraded
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed (status %d)", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
