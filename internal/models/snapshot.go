// Package models defines data structures and domain types.
package models

import "time"

// RateWindow summarizes one rate-limit window reported by a provider.
type RateWindow struct {
	ResetsAt      time.Time `json:"resetsAt"`
	Label         string    `json:"label,omitempty"`
	UsedPercent   float64   `json:"usedPercent"`
	WindowMinutes int       `json:"windowMinutes,omitempty"`
}

// Remaining returns the unused share of the window, clamped to [0, 100].
func (w *RateWindow) Remaining() float64 {
	if w == nil {
		return 0
	}
	r := 100 - w.UsedPercent
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// CostInfo carries locally derived spend figures for a provider account.
type CostInfo struct {
	UpdatedAt  time.Time `json:"updatedAt"`
	TodayUSD   float64   `json:"todayUSD"`
	SessionUSD float64   `json:"sessionUSD,omitempty"`
}

// UsageSnapshot is the immutable result of one usage fetch for one provider.
// Values are never mutated after construction; enrichment produces a new
// snapshot via WithCost.
type UsageSnapshot struct {
	FetchedAt    time.Time   `json:"fetchedAt"`
	ProviderID   string      `json:"providerId"`
	PlanType     string      `json:"planType,omitempty"`
	AccountEmail string      `json:"accountEmail,omitempty"`
	Source       string      `json:"source,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Primary      *RateWindow `json:"primary,omitempty"`
	Secondary    *RateWindow `json:"secondary,omitempty"`
	Cost         *CostInfo   `json:"cost,omitempty"`
	IsLoading    bool        `json:"isLoading,omitempty"`
}

// OK reports whether the snapshot carries real usage data.
func (s *UsageSnapshot) OK() bool {
	return s != nil && !s.IsLoading && s.ErrorMessage == ""
}

// UsedPercent returns the primary window's used percentage, or zero when no
// primary window is present.
func (s *UsageSnapshot) UsedPercent() float64 {
	if s == nil || s.Primary == nil {
		return 0
	}
	return s.Primary.UsedPercent
}

// WithCost returns a copy of the snapshot carrying the given cost record.
// The receiver is left untouched.
func (s *UsageSnapshot) WithCost(cost CostInfo) *UsageSnapshot {
	out := *s
	out.Cost = &cost
	return &out
}

// LoadingSnapshot returns the placeholder cached while a fetch is in flight.
func LoadingSnapshot(providerID string) *UsageSnapshot {
	return &UsageSnapshot{
		ProviderID: providerID,
		IsLoading:  true,
		FetchedAt:  time.Now(),
	}
}

// ErrorSnapshot returns a snapshot representing a failed fetch.
func ErrorSnapshot(providerID, message string) *UsageSnapshot {
	return &UsageSnapshot{
		ProviderID:   providerID,
		ErrorMessage: message,
		FetchedAt:    time.Now(),
	}
}
