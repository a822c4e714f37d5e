// Package models defines data structures and domain types.
package models

import "time"

// RequestLog is one record of an externally observed HTTP exchange. It is
// created once by the tracking handler when the exchange completes and never
// updated afterwards.
type RequestLog struct {
	Timestamp     time.Time `json:"timestamp"`
	ID            string    `json:"id"`
	Method        string    `json:"method"`
	Endpoint      string    `json:"endpoint"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	Error         string    `json:"error,omitempty"`
	InputTokens   *int64    `json:"inputTokens,omitempty"`
	OutputTokens  *int64    `json:"outputTokens,omitempty"`
	DurationMs    int64     `json:"durationMs"`
	StatusCode    int       `json:"statusCode"`
	RequestBytes  int64     `json:"requestBytes,omitempty"`
	ResponseBytes int64     `json:"responseBytes,omitempty"`
}

// Succeeded reports whether the exchange completed with a 2xx status and no
// transport error.
func (r *RequestLog) Succeeded() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// TotalTokens returns the sum of known token counts.
func (r *RequestLog) TotalTokens() int64 {
	var total int64
	if r.InputTokens != nil {
		total += *r.InputTokens
	}
	if r.OutputTokens != nil {
		total += *r.OutputTokens
	}
	return total
}

// AggregateStats accumulates requests and token totals for one grouping key.
type AggregateStats struct {
	Requests     int   `json:"requests"`
	Errors       int   `json:"errors"`
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// RequestStats is derived wholesale from the request ledger on every read,
// so it can never be stale relative to the ledger it summarizes.
type RequestStats struct {
	ByProvider        map[string]AggregateStats `json:"byProvider"`
	ByModel           map[string]AggregateStats `json:"byModel"`
	TotalRequests     int                       `json:"totalRequests"`
	SuccessCount      int                       `json:"successCount"`
	ErrorCount        int                       `json:"errorCount"`
	SuccessRate       float64                   `json:"successRate"`
	TotalInputTokens  int64                     `json:"totalInputTokens"`
	TotalOutputTokens int64                     `json:"totalOutputTokens"`
	AvgDurationMs     float64                   `json:"avgDurationMs"`
}
