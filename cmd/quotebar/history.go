package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/crhistian-cornejo/quotebar/internal/config"
	"github.com/crhistian-cornejo/quotebar/internal/db"
	"github.com/crhistian-cornejo/quotebar/internal/track"
)

func newHistoryCmd() *cobra.Command {
	var (
		provider string
		since    time.Duration
		height   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived usage over time and request ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			database, err := db.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open archive: %w", err)
			}
			defer func() { _ = database.Close() }()

			points, err := database.HistoryPoints(context.Background(),
				provider, time.Now().Add(-since))
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			fmt.Println()
			fmt.Println(titleStyle.Render(fmt.Sprintf("  %s USAGE (last %s)", provider, since)))
			fmt.Println()
			printUsageChart(points, height)

			tracker, err := track.NewTracker(cfg.HistoryPath, track.DefaultMaxEntries)
			if err != nil {
				return fmt.Errorf("failed to open request ledger: %w", err)
			}
			defer func() { _ = tracker.Close() }()

			fmt.Println()
			fmt.Println(titleStyle.Render("  REQUEST LEDGER"))
			fmt.Println()
			printStats(tracker)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "claude", "provider to chart")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "history window")
	cmd.Flags().IntVar(&height, "height", 8, "chart height in rows")
	return cmd
}

func printUsageChart(points []db.HistoryPoint, height int) {
	var series []float64
	for _, p := range points {
		if p.PrimaryUsedPercent != nil {
			series = append(series, *p.PrimaryUsedPercent)
		}
	}
	if len(series) == 0 {
		fmt.Println(subtleStyle.Render("  No archived snapshots in this window."))
		return
	}
	if height < 3 {
		height = 3
	}

	graph := asciigraph.Plot(series,
		asciigraph.Height(height),
		asciigraph.Width(60),
		asciigraph.Caption("used % over time"),
	)
	fmt.Println(graph)
}

func printStats(tracker *track.Tracker) {
	stats := tracker.Stats()
	if stats.TotalRequests == 0 {
		fmt.Println(subtleStyle.Render("  No tracked requests yet."))
		return
	}

	fmt.Printf("  requests: %d   success: %.1f%%   avg duration: %.0fms\n",
		stats.TotalRequests, stats.SuccessRate, stats.AvgDurationMs)
	fmt.Printf("  tokens in/out: %d / %d\n\n", stats.TotalInputTokens, stats.TotalOutputTokens)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  PROVIDER\tREQUESTS\tERRORS\tTOKENS IN\tTOKENS OUT")
	for provider, agg := range stats.ByProvider {
		fmt.Fprintf(w, "  %s\t%d\t%d\t%d\t%d\n",
			provider, agg.Requests, agg.Errors, agg.InputTokens, agg.OutputTokens)
	}
	_ = w.Flush()
}
