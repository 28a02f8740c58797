package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// AppendAuditEntry persists one chained audit entry for a run.
func (s *SQLiteStorage) AppendAuditEntry(ctx context.Context, runID string, entry model.AuditEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if err := validateAuditEntry(entry); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (run_id, seq, box_id, stage, detail, recorded_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID, entry.Seq, entry.BoxID, string(entry.Stage), entry.Detail,
		entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.PrevHash, entry.Hash,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("audit entry %d in run %s: %w", entry.Seq, runID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// GetAuditTrail returns a run's audit entries in sequence order. A non-empty
// boxID restricts the trail to that box.
func (s *SQLiteStorage) GetAuditTrail(ctx context.Context, runID, boxID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, box_id, stage, detail, recorded_at, prev_hash, hash
		FROM audit_entries
		WHERE run_id = ? AND (? = '' OR box_id = ?)
		ORDER BY seq
	`, runID, boxID, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e        model.AuditEntry
			stage    string
			recorded string
		)
		if err := rows.Scan(&e.Seq, &e.BoxID, &stage, &e.Detail, &recorded, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Stage = model.Stage(stage)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("audit entry %d: %w: bad timestamp %q", e.Seq, common.ErrDatabaseCorrupted, recorded)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RunAuditSink binds a run id so the storage can back an audit log.
type RunAuditSink struct {
	store *SQLiteStorage
	runID string
}

// AuditSink returns a sink writing entries under runID.
func (s *SQLiteStorage) AuditSink(runID string) *RunAuditSink {
	return &RunAuditSink{store: s, runID: runID}
}

// AppendAuditEntry implements audit.Sink.
func (a *RunAuditSink) AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	return a.store.AppendAuditEntry(ctx, a.runID, entry)
}
