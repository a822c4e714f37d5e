package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// HistoryPoint is one archived snapshot reduced to chartable fields.
type HistoryPoint struct {
	FetchedAt            time.Time
	Provider             string
	PrimaryUsedPercent   *float64
	SecondaryUsedPercent *float64
	CostTodayUSD         *float64
}

// RecordSnapshot archives one snapshot. Implements the usage store's
// archiver hook; only successful snapshots are expected here.
func (db *DB) RecordSnapshot(snapshot *models.UsageSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}

	var (
		primaryUsed, secondaryUsed     *float64
		primaryResets, secondaryResets *time.Time
		costToday                      *float64
	)
	if w := snapshot.Primary; w != nil {
		primaryUsed = &w.UsedPercent
		if !w.ResetsAt.IsZero() {
			primaryResets = &w.ResetsAt
		}
	}
	if w := snapshot.Secondary; w != nil {
		secondaryUsed = &w.UsedPercent
		if !w.ResetsAt.IsZero() {
			secondaryResets = &w.ResetsAt
		}
	}
	if c := snapshot.Cost; c != nil {
		costToday = &c.TodayUSD
	}

	query := `
	INSERT INTO usage_snapshots (
		fetched_at, provider, source, plan_type,
		primary_used_percent, primary_resets_at,
		secondary_used_percent, secondary_resets_at,
		cost_today_usd
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(context.Background(), query,
		snapshot.FetchedAt.UTC(), snapshot.ProviderID, snapshot.Source,
		snapshot.PlanType,
		primaryUsed, primaryResets, secondaryUsed, secondaryResets,
		costToday)
	if err != nil {
		return fmt.Errorf("failed to archive snapshot: %w", err)
	}
	return nil
}

// HistoryPoints returns archived snapshots for one provider since the given
// time, oldest first.
func (db *DB) HistoryPoints(ctx context.Context, provider string, since time.Time) ([]HistoryPoint, error) {
	query := `
	SELECT fetched_at, provider, primary_used_percent,
	       secondary_used_percent, cost_today_usd
	FROM usage_snapshots
	WHERE provider = ? AND fetched_at >= ?
	ORDER BY fetched_at ASC`

	rows, err := db.QueryContext(ctx, query, provider, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		var primary, secondary, cost sql.NullFloat64
		if err := rows.Scan(&p.FetchedAt, &p.Provider, &primary, &secondary, &cost); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if primary.Valid {
			p.PrimaryUsedPercent = &primary.Float64
		}
		if secondary.Valid {
			p.SecondaryUsedPercent = &secondary.Float64
		}
		if cost.Valid {
			p.CostTodayUSD = &cost.Float64
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return points, nil
}

// PruneBefore deletes archived snapshots older than the cutoff and returns
// the number removed.
func (db *DB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM usage_snapshots WHERE fetched_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	return n, nil
}
