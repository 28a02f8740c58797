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

// SaveBox stores a box's record, discrepancies and resolved tallies in one transaction.
func (s *SQLiteStorage) SaveBox(ctx context.Context, runID string, box *model.BoxResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if err := validateBox(box); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveRecordTx(ctx, tx, runID, box.Record); err != nil {
			return err
		}
		for _, d := range box.Discrepancies {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO discrepancies (run_id, box_id, candidate_id, machine, human, delta, resolution)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, runID, d.BoxID, int(d.CandidateID), d.Machine, d.Human, d.Delta, d.Resolution); err != nil {
				return fmt.Errorf("failed to save discrepancy %s/%s: %w", d.BoxID, d.CandidateID, err)
			}
		}
		for _, t := range box.Tallies {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tallies (
					run_id, box_id, candidate_id, final_count, source, note,
					machine_count, human_count, delta, discrepant, missing_verification
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
				runID, t.BoxID, int(t.CandidateID), t.FinalCount, string(t.Source), t.Note,
				t.MachineCount, t.HumanCount, t.Delta, t.Discrepant, t.MissingVerification,
			); err != nil {
				return fmt.Errorf("failed to save tally %s/%s: %w", t.BoxID, t.CandidateID, err)
			}
		}
		return nil
	})
	if isConstraintViolation(err) {
		return fmt.Errorf("box %s in run %s: %w", box.Record.BoxID, runID, common.ErrDuplicateEntry)
	}
	return err
}

func saveRecordTx(ctx context.Context, tx *sql.Tx, runID string, rec *model.BallotBoxRecord) error {
	signatures, err := json.Marshal(rec.Signatures)
	if err != nil {
		return fmt.Errorf("failed to encode signatures: %w", err)
	}

	var recordedAt any
	if !rec.Timestamp.IsZero() {
		recordedAt = rec.Timestamp.UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (run_id, box_id, page_number, location, vote_type, recorded_at, signatures)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.BoxID, rec.PageNumber, rec.Location, rec.VoteType, recordedAt, string(signatures)); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.BoxID, err)
	}

	for _, id := range rec.CandidateIDs() {
		pair := rec.Counts[id]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO counts (run_id, box_id, candidate_id, machine, human, human_verified, human_confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, rec.BoxID, int(id), pair.Machine, pair.Human, pair.HumanVerified, pair.HumanConfidence); err != nil {
			return fmt.Errorf("failed to save count %s/%s: %w", rec.BoxID, id, err)
		}
	}
	return nil
}

// SaveExclusion records a box left out of the totals.
func (s *SQLiteStorage) SaveExclusion(ctx context.Context, runID string, excluded model.ExcludedBox) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(runID, "runID"); err != nil {
		return err
	}
	if err := validateExcluded(excluded); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exclusions (run_id, box_id, page_number, reason, detail)
		VALUES (?, ?, ?, ?, ?)
	`, runID, excluded.BoxID, excluded.PageNumber, excluded.Reason, excluded.Detail)
	if isConstraintViolation(err) {
		return fmt.Errorf("exclusion %s in run %s: %w", excluded.BoxID, runID, common.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to save exclusion: %w", err)
	}
	return nil
}

// GetRecord loads the extracted record of one box.
func (s *SQLiteStorage) GetRecord(ctx context.Context, runID, boxID string) (*model.BallotBoxRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}
	if err := validateString(boxID, "boxID"); err != nil {
		return nil, err
	}

	rec := &model.BallotBoxRecord{BoxID: boxID, Counts: make(map[model.CandidateID]model.CountPair)}
	var (
		location, voteType, signatures sql.NullString
		recordedAt                     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT page_number, location, vote_type, recorded_at, signatures
		FROM records WHERE run_id = ? AND box_id = ?
	`, runID, boxID).Scan(&rec.PageNumber, &location, &voteType, &recordedAt, &signatures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s in run %s: %w", boxID, runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec.Location = location.String
	rec.VoteType = voteType.String
	if recordedAt.Valid {
		rec.Timestamp = recordedAt.Time
	}
	if signatures.Valid && signatures.String != "" {
		if err := json.Unmarshal([]byte(signatures.String), &rec.Signatures); err != nil {
			return nil, fmt.Errorf("failed to decode signatures: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, machine, human, human_verified, human_confidence
		FROM counts WHERE run_id = ? AND box_id = ?
	`, runID, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int
			pair model.CountPair
		)
		if err := rows.Scan(&id, &pair.Machine, &pair.Human, &pair.HumanVerified, &pair.HumanConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		rec.Counts[model.CandidateID(id)] = pair
	}
	return rec, rows.Err()
}

// GetResolvedTallies returns the tallies of a run ordered by box and
// candidate. An empty boxID returns every box.
func (s *SQLiteStorage) GetResolvedTallies(ctx context.Context, runID, boxID string) ([]model.ResolvedTally, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT box_id, candidate_id, final_count, source, note,
			machine_count, human_count, delta, discrepant, missing_verification
		FROM tallies
		WHERE run_id = ? AND (? = '' OR box_id = ?)
		ORDER BY box_id, candidate_id
	`, runID, boxID, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tallies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tallies []model.ResolvedTally
	for rows.Next() {
		var (
			t      model.ResolvedTally
			id     int
			source string
			note   sql.NullString
		)
		if err := rows.Scan(&t.BoxID, &id, &t.FinalCount, &source, &note,
			&t.MachineCount, &t.HumanCount, &t.Delta, &t.Discrepant, &t.MissingVerification); err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		t.CandidateID = model.CandidateID(id)
		t.Source = model.Source(source)
		t.Note = note.String
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

// GetDiscrepancies returns every discrepancy of a run with its resolution.
func (s *SQLiteStorage) GetDiscrepancies(ctx context.Context, runID string) ([]model.Discrepancy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT box_id, candidate_id, machine, human, delta, resolution
		FROM discrepancies WHERE run_id = ?
		ORDER BY box_id, candidate_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get discrepancies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Discrepancy
	for rows.Next() {
		var (
			d          model.Discrepancy
			id         int
			resolution sql.NullString
		)
		if err := rows.Scan(&d.BoxID, &id, &d.Machine, &d.Human, &d.Delta, &resolution); err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		d.CandidateID = model.CandidateID(id)
		d.Resolution = resolution.String
		out = append(out, d)
	}
	return out, rows.Err()
}
