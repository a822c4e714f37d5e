package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crhistian-cornejo/quotebar/internal/config"
	"github.com/crhistian-cornejo/quotebar/internal/logger"
	"github.com/crhistian-cornejo/quotebar/internal/services"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine in the foreground, logging usage and status events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger.SetDebug(cfg.Debug)

			engine, err := services.NewEngine(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			defer func() {
				if closeErr := engine.Close(); closeErr != nil {
					fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
				}
			}()

			events := engine.Subscribe()
			defer engine.Unsubscribe(events)

			go engine.RefreshAll(cmd.Context())
			go engine.Status().PollAll(cmd.Context())

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			logger.Info("quotebar running", "providers", engine.Store().Providers())
			for {
				select {
				case event := <-events:
					logEvent(event)
				case sig := <-sigChan:
					logger.Info("shutting down", "signal", sig.String())
					return nil
				}
			}
		},
	}
}

func logEvent(event services.EngineEvent) {
	switch e := event.(type) {
	case services.UsageUpdatedEvent:
		if e.Snapshot == nil || e.Snapshot.IsLoading {
			return
		}
		if !e.Snapshot.OK() {
			logger.Warn("usage fetch failed",
				"provider", e.ProviderID, "error", e.Snapshot.ErrorMessage)
			return
		}
		logger.Info("usage updated",
			"provider", e.ProviderID,
			"used_percent", fmt.Sprintf("%.1f", e.Snapshot.UsedPercent()),
			"source", e.Snapshot.Source)
	case services.AllRefreshedEvent:
		logger.Debug("refresh cycle complete")
	case services.RequestLoggedEvent:
		logger.Debug("request tracked",
			"provider", e.Entry.Provider,
			"status", e.Entry.StatusCode,
			"tokens", e.Entry.TotalTokens())
	case services.StatusChangedEvent:
		if e.Status != nil {
			logger.Info("provider status",
				"provider", e.Status.ProviderID,
				"level", e.Status.Level.String())
		}
	case services.SettingsChangedEvent:
		logger.Info("settings changed")
	}
}
