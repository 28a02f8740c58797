package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// SaveRun inserts a run or updates its status fields.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRun(run); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, strategy, source, status, boxes_expected)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status
	`,
		run.ID,
		run.StartedAt.UTC(),
		nullTime(run.FinishedAt),
		run.Strategy,
		run.Source,
		string(run.Status),
		run.BoxesExpected,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed or failed.
func (s *SQLiteStorage) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if status != model.RunCompleted && status != model.RunFailed {
		return fmt.Errorf("%w: cannot finish with status %q", ErrInvalidRun, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, strategy, source, status, boxes_expected`

// GetRun retrieves a run by id.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetLatestRun returns the most recently started run.
func (s *SQLiteStorage) GetLatestRun(ctx context.Context) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no runs recorded: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit returns all runs.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var (
		run      model.Run
		finished sql.NullTime
		source   sql.NullString
		status   string
	)
	if err := row.Scan(&run.ID, &run.StartedAt, &finished, &run.Strategy, &source, &status, &run.BoxesExpected); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.Source = source.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}
