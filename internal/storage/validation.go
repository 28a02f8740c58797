package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally-reconcile/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrInvalidRun      = errors.New("invalid run")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrInvalidTally    = errors.New("invalid tally")
	ErrInvalidAudit    = errors.New("invalid audit entry")
	ErrInvalidExcluded = errors.New("invalid excluded box")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateRun(run *model.Run) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidRun)
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	switch run.Status {
	case model.RunRunning, model.RunCompleted, model.RunFailed:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidRun, run.Status)
	}
	return nil
}

// validateBox checks that every row of box belongs to its record.
func validateBox(box *model.BoxResult) error {
	if box == nil || box.Record == nil {
		return fmt.Errorf("%w: box", ErrNilParameter)
	}
	rec := box.Record
	if strings.TrimSpace(rec.BoxID) == "" {
		return fmt.Errorf("%w: missing box ID", ErrInvalidRecord)
	}
	if rec.PageNumber < 1 {
		return fmt.Errorf("%w: page number %d", ErrInvalidRecord, rec.PageNumber)
	}
	for id, pair := range rec.Counts {
		if pair.Machine < 0 || pair.Human < 0 {
			return fmt.Errorf("%w: negative count for %s", ErrInvalidRecord, id)
		}
	}
	for _, t := range box.Tallies {
		if t.BoxID != rec.BoxID {
			return fmt.Errorf("%w: tally for %s stored under %s", ErrInvalidTally, t.BoxID, rec.BoxID)
		}
		switch t.Source {
		case model.SourceMachine, model.SourceHuman, model.SourceReconciled:
		default:
			return fmt.Errorf("%w: source %q", ErrInvalidTally, t.Source)
		}
	}
	for _, d := range box.Discrepancies {
		if d.BoxID != rec.BoxID {
			return fmt.Errorf("%w: discrepancy for %s stored under %s", ErrInvalidTally, d.BoxID, rec.BoxID)
		}
	}
	return nil
}

func validateAuditEntry(e model.AuditEntry) error {
	if !e.Stage.Valid() {
		return fmt.Errorf("%w: stage %q", ErrInvalidAudit, e.Stage)
	}
	if e.Seq < 1 {
		return fmt.Errorf("%w: sequence %d", ErrInvalidAudit, e.Seq)
	}
	if e.Hash == "" {
		return fmt.Errorf("%w: missing hash", ErrInvalidAudit)
	}
	return nil
}

func validateExcluded(ex model.ExcludedBox) error {
	if strings.TrimSpace(ex.BoxID) == "" {
		return fmt.Errorf("%w: missing box ID", ErrInvalidExcluded)
	}
	if strings.TrimSpace(ex.Reason) == "" {
		return fmt.Errorf("%w: missing reason", ErrInvalidExcluded)
	}
	return nil
}
