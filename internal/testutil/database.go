// Package testutil provides builders and fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/storage"
)

// SetupTestDB creates a migrated in-memory database closed on test cleanup.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store
}

// SeedRun stores a running run with the given id.
func SeedRun(t *testing.T, store *storage.SQLiteStorage, runID string, expected int) *model.Run {
	t.Helper()

	run := &model.Run{
		ID:            runID,
		StartedAt:     time.Now().UTC(),
		Strategy:      "override",
		Status:        model.RunRunning,
		BoxesExpected: expected,
	}
	if err := store.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("failed to seed run %q: %v", runID, err)
	}
	return run
}
