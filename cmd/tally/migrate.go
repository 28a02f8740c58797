package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Runs, records, tallies, discrepancies and the audit trail are all kept in
the SQLite database named by database.path.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer closeStorage(store)

	if status {
		current, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Database:        %s\nCurrent version: %d\nLatest version:  %d\n",
			cfg.Database.Path, current, storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("Database migrations completed", "version", storage.ExpectedSchemaVersion)

	return nil
}
