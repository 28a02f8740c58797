package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// ErrDiscrepancyMismatch is returned when a discrepancy does not belong to the record being reconciled.
var ErrDiscrepancyMismatch = errors.New("discrepancy does not match record")

// MissingVerificationError flags a cell whose human count could not be read.
// It is not fatal: the machine count is used and the fallback is reported.
type MissingVerificationError struct {
	BoxID       string
	CandidateID model.CandidateID
	Machine     int64
}

func (e *MissingVerificationError) Error() string {
	return fmt.Sprintf("%s: candidate %s has no human verification, machine count %d used",
		e.BoxID, e.CandidateID, e.Machine)
}

// Resolution is the reconciled state of one box.
type Resolution struct {
	BoxID         string
	Tallies       []model.ResolvedTally
	Discrepancies []model.Discrepancy
	Missing       []*MissingVerificationError
}

// Engine applies a Strategy to every cell of a record.
type Engine struct {
	strategy Strategy
	recorder audit.Recorder
}

// NewEngine creates an engine. A nil strategy means OverrideStrategy.
func NewEngine(strategy Strategy, recorder audit.Recorder) *Engine {
	if strategy == nil {
		strategy = OverrideStrategy{}
	}
	return &Engine{strategy: strategy, recorder: recorder}
}

// Strategy returns the strategy in use.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Reconcile produces one ResolvedTally per row of record, ordered by
// candidate id. discrepancies must be the detector's output for record; each
// is returned annotated with the resolution applied to it.
func (e *Engine) Reconcile(record *model.BallotBoxRecord, discrepancies []model.Discrepancy) (*Resolution, error) {
	flagged := make(map[model.CandidateID]int, len(discrepancies))
	for i, d := range discrepancies {
		pair, ok := record.Counts[d.CandidateID]
		if d.BoxID != record.BoxID || !ok || !pair.HumanVerified || pair.Delta() != d.Delta {
			return nil, fmt.Errorf("%w: box %s candidate %s", ErrDiscrepancyMismatch, d.BoxID, d.CandidateID)
		}
		flagged[d.CandidateID] = i
	}

	res := &Resolution{
		BoxID:         record.BoxID,
		Tallies:       make([]model.ResolvedTally, 0, len(record.Counts)),
		Discrepancies: make([]model.Discrepancy, len(discrepancies)),
	}
	copy(res.Discrepancies, discrepancies)

	for _, id := range record.CandidateIDs() {
		pair := record.Counts[id]
		tally := model.ResolvedTally{
			BoxID:        record.BoxID,
			CandidateID:  id,
			MachineCount: pair.Machine,
			HumanCount:   pair.Human,
		}

		if !pair.HumanVerified {
			missing := &MissingVerificationError{BoxID: record.BoxID, CandidateID: id, Machine: pair.Machine}
			res.Missing = append(res.Missing, missing)
			tally.FinalCount = pair.Machine
			tally.Source = model.SourceMachine
			tally.MissingVerification = true
			tally.Note = "missing human verification, machine count used"
			res.Tallies = append(res.Tallies, tally)
			continue
		}

		tally.FinalCount, tally.Source, tally.Note = e.strategy.Resolve(pair)
		tally.Delta = pair.Delta()
		if i, ok := flagged[id]; ok {
			tally.Discrepant = true
			res.Discrepancies[i].Resolution = fmt.Sprintf("%s: final %d from %s", e.strategy.Name(), tally.FinalCount, tally.Source)
		}
		res.Tallies = append(res.Tallies, tally)
	}

	if e.recorder != nil {
		if err := e.recorder.Record(record.BoxID, model.StageReconcile, e.summarize(res)); err != nil {
			slog.Error("Failed to write audit entry", "box_id", record.BoxID, "stage", model.StageReconcile, "error", err)
		}
	}

	return res, nil
}

func (e *Engine) summarize(res *Resolution) string {
	bySource := make(map[model.Source]int)
	for _, t := range res.Tallies {
		bySource[t.Source]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "strategy %s: %d tallies (machine %d, human %d, reconciled %d)",
		e.strategy.Name(), len(res.Tallies),
		bySource[model.SourceMachine], bySource[model.SourceHuman], bySource[model.SourceReconciled])
	for _, d := range res.Discrepancies {
		fmt.Fprintf(&b, "; %s %s", d.CandidateID, d.Resolution)
	}
	for _, m := range res.Missing {
		fmt.Fprintf(&b, "; %s missing human verification, machine %d used", m.CandidateID, m.Machine)
	}
	return b.String()
}
