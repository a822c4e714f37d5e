package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/crhistian-cornejo/quotebar/internal/config"
	"github.com/crhistian-cornejo/quotebar/internal/models"
	"github.com/crhistian-cornejo/quotebar/internal/services"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F39C12"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newStatusCmd() *cobra.Command {
	var includePages bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch and show current usage for every enabled provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			engine, err := services.NewEngine(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			defer func() { _ = engine.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			engine.RefreshAll(ctx)
			if includePages {
				engine.Status().PollAll(ctx)
			}

			fmt.Println()
			fmt.Println(titleStyle.Render("  PROVIDER USAGE"))
			fmt.Println()
			for _, id := range engine.Store().Providers() {
				printSnapshot(engine.Store().Snapshot(id))
			}

			if includePages {
				fmt.Println(titleStyle.Render("  STATUS PAGES"))
				fmt.Println()
				for _, id := range engine.Store().Providers() {
					printStatus(id, engine.Status().Status(id))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includePages, "pages", false, "also poll provider status pages")
	return cmd
}

func printSnapshot(snap *models.UsageSnapshot) {
	if snap == nil {
		return
	}
	name := strings.ToUpper(snap.ProviderID)
	if !snap.OK() {
		fmt.Printf("  %-8s %s\n\n", name, errStyle.Render(snap.ErrorMessage))
		return
	}

	fmt.Printf("  %-8s %s %5.1f%%  %s\n", name,
		usageBar(snap.UsedPercent(), 20), snap.UsedPercent(),
		subtleStyle.Render("via "+snap.Source))

	for _, window := range []*models.RateWindow{snap.Primary, snap.Secondary} {
		if window == nil {
			continue
		}
		line := fmt.Sprintf("           %-10s %5.1f%% used, %.1f%% left", window.Label, window.UsedPercent, window.Remaining())
		if !window.ResetsAt.IsZero() {
			line += subtleStyle.Render(fmt.Sprintf("  resets %s", formatReset(window.ResetsAt)))
		}
		fmt.Println(line)
	}
	if snap.PlanType != "" {
		fmt.Printf("           %s\n", subtleStyle.Render("plan: "+snap.PlanType))
	}
	if snap.Cost != nil {
		fmt.Printf("           %s\n", subtleStyle.Render(fmt.Sprintf("today: $%.2f", snap.Cost.TodayUSD)))
	}
	fmt.Println()
}

func printStatus(id string, st *models.ProviderStatus) {
	if st == nil {
		return
	}
	style := okStyle
	switch {
	case st.Level == models.StatusUnknown:
		style = subtleStyle
	case st.Level.Severity() >= 3:
		style = errStyle
	case st.Level.Severity() >= 1:
		style = warnStyle
	}

	line := fmt.Sprintf("  %-8s %s", strings.ToUpper(id), style.Render(st.Level.String()))
	if st.ActiveIncidents > 0 {
		line += subtleStyle.Render(fmt.Sprintf("  (%d active: %s)", st.ActiveIncidents, st.IncidentSummary))
	}
	fmt.Println(line)
}

// usageBar renders a fixed-width bar colored by how close usage is to the
// limit.
func usageBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))

	style := okStyle
	switch {
	case percent >= 95:
		style = errStyle
	case percent >= 80:
		style = warnStyle
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return style.Render(bar)
}

func formatReset(t time.Time) string {
	until := time.Until(t)
	if until <= 0 {
		return "now"
	}
	if until < time.Hour {
		return fmt.Sprintf("in %dm", int(until.Minutes()))
	}
	if until < 24*time.Hour {
		return fmt.Sprintf("in %dh%02dm", int(until.Hours()), int(until.Minutes())%60)
	}
	return t.Format("Jan 2 15:04")
}
