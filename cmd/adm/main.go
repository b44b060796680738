// Package main provides the main entry point for the commentary admin CLI tool.
package main

import (
	"context"
	"fmt"
	"os"

	"commentaryapp/cmd/adm/commands"
	"commentaryapp/internal/config"
	"commentaryapp/internal/di"
	"commentaryapp/internal/observability"
	"commentaryapp/internal/version"

	"github.com/spf13/cobra"
)

func main() {
	ctx := context.Background()

	// Fall back to a config next to the binary when none is named
	if os.Getenv(config.ConfigFileEnv) == "" {
		for _, path := range []string{"config.yaml", "../config.yaml", "../../config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				if err := os.Setenv(config.ConfigFileEnv, path); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to set %s: %v\n", config.ConfigFileEnv, err)
					os.Exit(1)
				}
				break
			}
		}
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Disable all OpenTelemetry features for admin CLI to avoid connection errors
	cfg.OpenTelemetry.EnableTracing = false
	cfg.OpenTelemetry.EnableMetrics = false
	cfg.OpenTelemetry.EnableLogging = false

	tp, mp, logger, err := observability.SetupObservability(&cfg.OpenTelemetry, "commentary-admin", observability.ParseLevel("error"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize observability: %v\n", err)
		os.Exit(1)
	}
	defer observability.Shutdown(context.Background(), tp, mp, logger)

	// Migrations are an explicit command here, so the pool is opened without them
	container := di.NewServiceContainer(cfg, logger)
	if err := container.InitializeWithoutMigrations(ctx); err != nil {
		logger.Error(ctx, "Failed to initialize services", err, nil)
		os.Exit(1)
	}
	defer func() {
		if err := container.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Warning: failed to close database connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	db := container.GetDatabase()
	dbManager := container.GetDatabaseManager()
	dispatcher, _ := container.GetDispatcher()
	store, _ := container.GetCommentaryStore()
	settings, _ := container.GetSettingsService()

	rootCmd := &cobra.Command{
		Use:   "adm",
		Short: "Commentary Service Administration Tool",
		Long: `Commentary Service Administration Tool

Runs and inspects the exam question commentary pipeline, edits the
processing settings row and manages the database schema.`,
		SilenceUsage: true,
		Version:      version.Get("commentary-admin").String(),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				fmt.Printf("Error showing help: %v\n", err)
			}
		},
	}

	rootCmd.AddCommand(commands.CommentaryCommands(dispatcher, store, logger))
	rootCmd.AddCommand(commands.SettingsCommands(settings, cfg.SlotNames()))
	rootCmd.AddCommand(commands.DatabaseCommands(dbManager, logger, cfg.Database.URL, db))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
