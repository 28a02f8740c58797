package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/Veraticus/tally-reconcile/internal/config"
	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/report"
	"github.com/Veraticus/tally-reconcile/internal/storage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStorage opens the configured database and brings its schema up to date.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func closeStorage(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

// resolveRun returns the run named by id, or the latest run when id is empty.
func resolveRun(ctx context.Context, store *storage.SQLiteStorage, id string) (*model.Run, error) {
	if id == "" {
		run, err := store.GetLatestRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("no runs recorded yet: %w", err)
		}
		return run, nil
	}
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return run, nil
}

func newRenderer(cfg *config.Config) (*report.Renderer, error) {
	set, err := cfg.CandidateSet()
	if err != nil {
		return nil, err
	}
	return report.NewRenderer(set, language.Korean), nil
}
