package commands

import (
	"context"
	"database/sql"
	"fmt"

	"commentaryapp/internal/database"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	"github.com/spf13/cobra"
)

// Migrator applies and inspects schema migrations
type Migrator interface {
	RunMigrations(ctx context.Context, databaseURL string) error
	MigrationInfo(ctx context.Context, databaseURL string) (database.MigrationStatus, error)
}

// DatabaseCommands returns the database management commands
func DatabaseCommands(migrator Migrator, logger *observability.Logger, databaseURL string, db *sql.DB) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the commentary service.

Available commands:
  migrate   - Apply pending schema migrations
  info      - Show connection and schema version`,
	}

	dbCmd.AddCommand(migrateCmd(migrator, logger, databaseURL))
	dbCmd.AddCommand(infoCmd(migrator, databaseURL, db))

	return dbCmd
}

func migrateCmd(migrator Migrator, logger *observability.Logger, databaseURL string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger.Info(ctx, "Applying migrations", map[string]interface{}{"database": contextutils.MaskDatabaseURL(databaseURL)})
			if err := migrator.RunMigrations(ctx, databaseURL); err != nil {
				return err
			}
			status, err := migrator.MigrationInfo(ctx, databaseURL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", status.Version)
			return err
		},
	}
}

func infoCmd(migrator Migrator, databaseURL string, db *sql.DB) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show connection and schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			status, err := migrator.MigrationInfo(ctx, databaseURL)
			if err != nil {
				return err
			}
			embedded, err := database.EmbeddedMigrations()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database:   %s\n", contextutils.MaskDatabaseURL(databaseURL))
			fmt.Fprintf(out, "Connection: %s\n", getDatabaseInfo(db))
			if status.Applied {
				fmt.Fprintf(out, "Version:    %d (dirty: %t)\n", status.Version, status.Dirty)
			} else {
				fmt.Fprintln(out, "Version:    no migrations applied")
			}
			fmt.Fprintf(out, "Embedded:   %d files\n", len(embedded))
			return nil
		},
	}
}
