// Package aggregate sums resolved per-box tallies into the final report.
package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/model"
)

// ReportScope is the box id used for report-wide audit entries.
const ReportScope = "report"

// Aggregation errors.
var (
	ErrUnexpectedBox   = errors.New("box is not part of this report")
	ErrDuplicateBox    = errors.New("box already accounted for")
	ErrBatchMismatch   = errors.New("tally does not belong to batch box")
	ErrReportFinalized = errors.New("report already finalized")
	ErrOverflow        = errors.New("vote total overflow")
)

// IncompleteReportError is returned by Finalize while expected boxes are
// neither observed nor excluded. Retrying after the remaining pages complete succeeds.
type IncompleteReportError struct {
	Missing []string
}

func (e *IncompleteReportError) Error() string {
	return fmt.Sprintf("report incomplete: %d boxes missing: %s", len(e.Missing), strings.Join(e.Missing, ", "))
}

// Batch is the resolved output of one box.
type Batch struct {
	BoxID              string
	Tallies            []model.ResolvedTally
	PageNumber         int
	Discrepancies      int
	LowConfidence      bool
	SignatureShortfall bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRecorder sets the audit recorder used on finalize.
func WithRecorder(r audit.Recorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithStrategy records the resolution strategy name on the report.
func WithStrategy(name string) Option {
	return func(a *Aggregator) { a.strategy = name }
}

// WithCandidates seeds zero totals for every configured candidate so the
// report lists candidates that received no votes.
func WithCandidates(ids []model.CandidateID) Option {
	return func(a *Aggregator) {
		for _, id := range ids {
			a.totals[id] = 0
		}
	}
}

// Aggregator accumulates running totals for one report run. It is safe for
// concurrent use; every mutation happens under one lock.
type Aggregator struct {
	recorder  audit.Recorder
	now       func() time.Time
	report    *model.AggregateReport
	expected  map[string]struct{}
	observed  map[string]struct{}
	excluded  map[string]model.ExcludedBox
	totals    map[model.CandidateID]int64
	strategy  string
	missing   []model.CellRef
	lowConf   []string
	shortfall []string
	machine   int64
	human     int64
	invalid   int64
	discreps  int
	mu        sync.Mutex
}

// New creates an aggregator expecting exactly the given box ids.
func New(expected []string, opts ...Option) *Aggregator {
	a := &Aggregator{
		now:      func() time.Time { return time.Now().UTC() },
		expected: make(map[string]struct{}, len(expected)),
		observed: make(map[string]struct{}, len(expected)),
		excluded: make(map[string]model.ExcludedBox),
		totals:   make(map[model.CandidateID]int64),
	}
	for _, id := range expected {
		a.expected[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add folds one box's tallies into the running totals. The batch is applied
// entirely or not at all.
func (a *Aggregator) Add(b Batch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOpen(b.BoxID); err != nil {
		return err
	}

	totals := make(map[model.CandidateID]int64, len(a.totals))
	for id, v := range a.totals {
		totals[id] = v
	}
	machine, human, invalid := a.machine, a.human, a.invalid
	var missing []model.CellRef

	for _, t := range b.Tallies {
		if t.BoxID != b.BoxID {
			return fmt.Errorf("%w: tally for %s in batch %s", ErrBatchMismatch, t.BoxID, b.BoxID)
		}
		var err error
		if t.CandidateID == model.InvalidVotes {
			if invalid, err = addChecked(invalid, t.FinalCount); err != nil {
				return err
			}
		} else if totals[t.CandidateID], err = addChecked(totals[t.CandidateID], t.FinalCount); err != nil {
			return err
		}
		if machine, err = addChecked(machine, t.MachineCount); err != nil {
			return err
		}
		if !t.MissingVerification {
			if human, err = addChecked(human, t.HumanCount); err != nil {
				return err
			}
		} else {
			missing = append(missing, model.CellRef{BoxID: t.BoxID, CandidateID: t.CandidateID})
		}
	}

	a.totals = totals
	a.machine, a.human, a.invalid = machine, human, invalid
	a.discreps += b.Discrepancies
	a.missing = append(a.missing, missing...)
	if b.LowConfidence {
		a.lowConf = append(a.lowConf, b.BoxID)
	}
	if b.SignatureShortfall {
		a.shortfall = append(a.shortfall, b.BoxID)
	}
	a.observed[b.BoxID] = struct{}{}
	return nil
}

// Exclude accounts for a box whose page failed extraction. Excluded boxes
// are listed on the report and contribute nothing to the totals.
func (a *Aggregator) Exclude(box model.ExcludedBox) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkOpen(box.BoxID); err != nil {
		return err
	}
	a.excluded[box.BoxID] = box
	return nil
}

func (a *Aggregator) checkOpen(boxID string) error {
	if a.report != nil {
		return ErrReportFinalized
	}
	if _, ok := a.expected[boxID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedBox, boxID)
	}
	if _, ok := a.observed[boxID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBox, boxID)
	}
	if _, ok := a.excluded[boxID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBox, boxID)
	}
	return nil
}

// Missing returns the expected box ids not yet observed or excluded, sorted.
func (a *Aggregator) Missing() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.missingLocked()
}

func (a *Aggregator) missingLocked() []string {
	var out []string
	for id := range a.expected {
		if _, ok := a.observed[id]; ok {
			continue
		}
		if _, ok := a.excluded[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Finalize returns the report once every expected box is accounted for.
// The first successful call fixes the report; later calls return the same content.
func (a *Aggregator) Finalize() (*model.AggregateReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.report != nil {
		return cloneReport(a.report), nil
	}

	if missing := a.missingLocked(); len(missing) > 0 {
		return nil, &IncompleteReportError{Missing: missing}
	}

	report := &model.AggregateReport{
		GeneratedAt:          a.now(),
		Totals:               make(map[model.CandidateID]int64, len(a.totals)),
		Strategy:             a.strategy,
		ExcludedBoxes:        make([]model.ExcludedBox, 0, len(a.excluded)),
		MissingVerifications: append([]model.CellRef{}, a.missing...),
		LowConfidenceBoxes:   append([]string{}, a.lowConf...),
		SignatureShortfalls:  append([]string{}, a.shortfall...),
		DiscrepancyCount:     a.discreps,
		BoxesProcessed:       len(a.observed),
		BoxesExpected:        len(a.expected),
		MachineTotal:         a.machine,
		HumanTotal:           a.human,
		InvalidTotal:         a.invalid,
	}
	for id, v := range a.totals {
		report.Totals[id] = v
	}
	for _, ex := range a.excluded {
		report.ExcludedBoxes = append(report.ExcludedBoxes, ex)
	}
	sort.Slice(report.ExcludedBoxes, func(i, j int) bool {
		return report.ExcludedBoxes[i].BoxID < report.ExcludedBoxes[j].BoxID
	})
	sort.Slice(report.MissingVerifications, func(i, j int) bool {
		mi, mj := report.MissingVerifications[i], report.MissingVerifications[j]
		if mi.BoxID != mj.BoxID {
			return mi.BoxID < mj.BoxID
		}
		return mi.CandidateID < mj.CandidateID
	})
	sort.Strings(report.LowConfidenceBoxes)
	sort.Strings(report.SignatureShortfalls)

	if a.recorder != nil {
		detail := fmt.Sprintf("finalized: %d of %d boxes processed, %d excluded, %d discrepancies, %d missing verifications",
			report.BoxesProcessed, report.BoxesExpected, len(report.ExcludedBoxes),
			report.DiscrepancyCount, len(report.MissingVerifications))
		if err := a.recorder.Record(ReportScope, model.StageAggregate, detail); err != nil {
			slog.Error("Failed to write audit entry", "stage", model.StageAggregate, "error", err)
			return nil, fmt.Errorf("failed to record finalize: %w", err)
		}
	}

	a.report = report
	return cloneReport(report), nil
}

func addChecked(a, b int64) (int64, error) {
	if b < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrOverflow, b)
	}
	if a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func cloneReport(r *model.AggregateReport) *model.AggregateReport {
	out := *r
	out.Totals = make(map[model.CandidateID]int64, len(r.Totals))
	for id, v := range r.Totals {
		out.Totals[id] = v
	}
	out.ExcludedBoxes = append([]model.ExcludedBox{}, r.ExcludedBoxes...)
	out.MissingVerifications = append([]model.CellRef{}, r.MissingVerifications...)
	out.LowConfidenceBoxes = append([]string{}, r.LowConfidenceBoxes...)
	out.SignatureShortfalls = append([]string{}, r.SignatureShortfalls...)
	return &out
}
