package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					strategy TEXT NOT NULL,
					source TEXT,
					status TEXT NOT NULL,
					boxes_expected INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_runs_started_at ON runs(started_at)`,

				`CREATE TABLE IF NOT EXISTS records (
					run_id TEXT NOT NULL,
					box_id TEXT NOT NULL,
					page_number INTEGER NOT NULL,
					location TEXT,
					vote_type TEXT,
					recorded_at DATETIME,
					signatures TEXT,
					PRIMARY KEY (run_id, box_id),
					FOREIGN KEY (run_id) REFERENCES runs(id)
				)`,

				`CREATE TABLE IF NOT EXISTS counts (
					run_id TEXT NOT NULL,
					box_id TEXT NOT NULL,
					candidate_id INTEGER NOT NULL,
					machine INTEGER NOT NULL CHECK (machine >= 0),
					human INTEGER NOT NULL CHECK (human >= 0),
					human_verified BOOLEAN NOT NULL,
					human_confidence REAL DEFAULT 0,
					PRIMARY KEY (run_id, box_id, candidate_id),
					FOREIGN KEY (run_id, box_id) REFERENCES records(run_id, box_id)
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add reconciliation results",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS discrepancies (
					run_id TEXT NOT NULL,
					box_id TEXT NOT NULL,
					candidate_id INTEGER NOT NULL,
					machine INTEGER NOT NULL,
					human INTEGER NOT NULL,
					delta INTEGER NOT NULL,
					resolution TEXT,
					PRIMARY KEY (run_id, box_id, candidate_id),
					FOREIGN KEY (run_id, box_id) REFERENCES records(run_id, box_id)
				)`,

				`CREATE TABLE IF NOT EXISTS tallies (
					run_id TEXT NOT NULL,
					box_id TEXT NOT NULL,
					candidate_id INTEGER NOT NULL,
					final_count INTEGER NOT NULL CHECK (final_count >= 0),
					source TEXT NOT NULL,
					note TEXT,
					machine_count INTEGER NOT NULL,
					human_count INTEGER NOT NULL,
					delta INTEGER NOT NULL,
					discrepant BOOLEAN NOT NULL,
					missing_verification BOOLEAN NOT NULL,
					PRIMARY KEY (run_id, box_id, candidate_id),
					FOREIGN KEY (run_id, box_id) REFERENCES records(run_id, box_id)
				)`,
				`CREATE INDEX idx_tallies_source ON tallies(run_id, source)`,

				`CREATE TABLE IF NOT EXISTS exclusions (
					run_id TEXT NOT NULL,
					box_id TEXT NOT NULL,
					page_number INTEGER NOT NULL,
					reason TEXT NOT NULL,
					detail TEXT,
					PRIMARY KEY (run_id, box_id),
					FOREIGN KEY (run_id) REFERENCES runs(id)
				)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add audit trail",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS audit_entries (
					run_id TEXT NOT NULL,
					seq INTEGER NOT NULL,
					box_id TEXT NOT NULL,
					stage TEXT NOT NULL,
					detail TEXT NOT NULL,
					recorded_at TEXT NOT NULL,
					prev_hash TEXT NOT NULL,
					hash TEXT NOT NULL,
					PRIMARY KEY (run_id, seq),
					FOREIGN KEY (run_id) REFERENCES runs(id)
				)`,
				`CREATE INDEX idx_audit_entries_box ON audit_entries(run_id, box_id)`,
				// The trail is append-only.
				`CREATE TRIGGER audit_entries_no_update
				BEFORE UPDATE ON audit_entries
				BEGIN
					SELECT RAISE(ABORT, 'audit entries are append-only');
				END`,
				`CREATE TRIGGER audit_entries_no_delete
				BEFORE DELETE ON audit_entries
				BEGIN
					SELECT RAISE(ABORT, 'audit entries are append-only');
				END`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add final reports",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS reports (
					run_id TEXT PRIMARY KEY,
					generated_at DATETIME NOT NULL,
					discrepancy_count INTEGER NOT NULL,
					boxes_processed INTEGER NOT NULL,
					boxes_expected INTEGER NOT NULL,
					document TEXT NOT NULL,
					FOREIGN KEY (run_id) REFERENCES runs(id)
				)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Debug("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if version != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, version)
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
