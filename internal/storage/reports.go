package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// SaveReport stores the finalized report of a run. A run has at most one report.
func (s *SQLiteStorage) SaveReport(ctx context.Context, runID string, report *model.AggregateReport) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("%w: report", ErrNilParameter)
	}

	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (run_id, generated_at, discrepancy_count, boxes_processed, boxes_expected, document)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, report.GeneratedAt.UTC(), report.DiscrepancyCount, report.BoxesProcessed, report.BoxesExpected, string(doc))
	if isConstraintViolation(err) {
		return fmt.Errorf("report for run %s: %w", runID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport loads the finalized report of a run.
func (s *SQLiteStorage) GetReport(ctx context.Context, runID string) (*model.AggregateReport, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM reports WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report for run %s: %w", runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var report model.AggregateReport
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return nil, fmt.Errorf("report for run %s: %w: %v", runID, common.ErrDatabaseCorrupted, err)
	}
	return &report, nil
}
