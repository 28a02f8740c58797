// Package pipeline runs pages through extraction, discrepancy detection and
// reconciliation on a worker pool and folds the results into one aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Veraticus/tally-reconcile/internal/aggregate"
	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/extract"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/reconcile"
	"github.com/Veraticus/tally-reconcile/internal/service"
	"github.com/Veraticus/tally-reconcile/internal/storage"
)

// Page outcomes reported through Progress.
const (
	StatusProcessed = "processed"
	StatusExcluded  = "excluded"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Progress is reported once per input page, from a single goroutine.
type Progress struct {
	BoxID  string
	Status string
	Page   int
	Done   int
	Total  int
}

// Stages are the per-page components a Runner drives.
type Stages struct {
	Extractor *extract.Extractor
	Detector  *reconcile.Detector
	Engine    *reconcile.Engine
	Log       *audit.Log
	// Store is optional; when set every box and exclusion is persisted.
	Store service.BoxWriter
}

// Options configures a Runner.
type Options struct {
	Progress  func(Progress)
	RunID     string
	SkipPages []int
	Retry     service.RetryOptions
	Workers   int
}

// Failure is a page that did not reach the aggregator.
type Failure struct {
	Err   error
	Input layout.PageInput
}

// Result is the outcome of a run.
type Result struct {
	// Report is nil when the run did not account for every expected box.
	Report   *model.AggregateReport
	Boxes    []model.BoxResult
	Failures []Failure
	Skipped  []int
	// Cancelled pages stay unobserved; they are neither totalled nor excluded.
	Cancelled []int
}

// Tallies returns every resolved tally ordered by box and candidate.
func (r *Result) Tallies() []model.ResolvedTally {
	var out []model.ResolvedTally
	for _, b := range r.Boxes {
		out = append(out, b.Tallies...)
	}
	return out
}

// Runner executes one reconciliation run.
type Runner struct {
	stages Stages
	skip   map[int]struct{}
	opts   Options
}

// NewRunner creates a runner. Extractor, Detector, Engine and Log are required.
func NewRunner(stages Stages, opts Options) (*Runner, error) {
	if stages.Extractor == nil || stages.Detector == nil || stages.Engine == nil || stages.Log == nil {
		return nil, fmt.Errorf("%w: pipeline stages incomplete", common.ErrMissingConfig)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if stages.Store != nil && opts.RunID == "" {
		return nil, fmt.Errorf("%w: run id required with a store", common.ErrMissingConfig)
	}
	skip := make(map[int]struct{}, len(opts.SkipPages))
	for _, p := range opts.SkipPages {
		skip[p] = struct{}{}
	}
	return &Runner{stages: stages, opts: opts, skip: skip}, nil
}

type outcome struct {
	err        error
	extraction *extract.Extraction
	resolution *reconcile.Resolution
	discreps   []model.Discrepancy
	input      layout.PageInput
}

// Run processes inputs and finalizes agg. When some expected box was never
// accounted for, Run returns the partial Result together with the
// aggregator's *aggregate.IncompleteReportError.
func (r *Runner) Run(ctx context.Context, agg *aggregate.Aggregator, inputs []layout.PageInput) (*Result, error) {
	result := &Result{}
	total := len(inputs)
	done := 0

	work := make([]layout.PageInput, 0, len(inputs))
	for _, in := range inputs {
		if in.BoxID == "" {
			in.BoxID = layout.BoxIDForPage(in.Number)
		}
		if _, ok := r.skip[in.Number]; ok {
			if err := r.stages.Log.Record(in.BoxID, model.StageExtract, fmt.Sprintf("page %d: summary page skipped", in.Number)); err != nil {
				slog.Error("Failed to write audit entry", "box_id", in.BoxID, "stage", model.StageExtract, "error", err)
			}
			result.Skipped = append(result.Skipped, in.Number)
			done++
			r.report(Progress{Page: in.Number, BoxID: in.BoxID, Status: StatusSkipped, Done: done, Total: total})
			continue
		}
		work = append(work, in)
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := r.dispatch(workCtx, work)

	// Writes of results already computed survive cancellation of the run.
	storeCtx := context.WithoutCancel(ctx)
	var fatal error
	for out := range results {
		done++
		status, err := r.consume(storeCtx, agg, out, result)
		if err != nil && fatal == nil {
			fatal = err
			cancel()
		}
		r.report(Progress{Page: out.input.Number, BoxID: out.input.BoxID, Status: status, Done: done, Total: total})
	}

	sort.Slice(result.Boxes, func(i, j int) bool { return result.Boxes[i].Record.BoxID < result.Boxes[j].Record.BoxID })
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].Input.Number < result.Failures[j].Input.Number })
	sort.Ints(result.Cancelled)

	if fatal != nil {
		return result, fatal
	}
	if err := r.stages.Log.Err(); err != nil {
		return result, fmt.Errorf("%w: %w", common.ErrAuditIncomplete, err)
	}

	report, err := agg.Finalize()
	if err != nil {
		if err := r.stages.Log.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", common.ErrAuditIncomplete, err)
		}
		return result, err
	}
	result.Report = report
	return result, nil
}

func (r *Runner) dispatch(ctx context.Context, inputs []layout.PageInput) <-chan outcome {
	workChan := make(chan layout.PageInput, len(inputs))
	for _, in := range inputs {
		workChan <- in
	}
	close(workChan)

	resultsChan := make(chan outcome, len(inputs))

	workers := r.opts.Workers
	if workers > len(inputs) {
		workers = len(inputs)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for in := range workChan {
				resultsChan <- r.process(ctx, in)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	return resultsChan
}

// process runs one page through extraction, detection and reconciliation.
// It touches no state shared with other pages apart from the audit log.
func (r *Runner) process(ctx context.Context, in layout.PageInput) outcome {
	extraction, err := r.stages.Extractor.Extract(ctx, in)
	if err != nil {
		return outcome{input: in, err: err}
	}

	found := r.stages.Detector.Detect(extraction.Record)
	resolution, err := r.stages.Engine.Reconcile(extraction.Record, found)
	if err != nil {
		return outcome{input: in, err: fmt.Errorf("failed to reconcile %s: %w", in.BoxID, err)}
	}

	return outcome{input: in, extraction: extraction, resolution: resolution, discreps: found}
}

// recordRejection closes the trail of a box the aggregator refused.
func (r *Runner) recordRejection(boxID string, err error) {
	if rerr := r.stages.Log.Record(boxID, model.StageAggregate, "box rejected: "+err.Error()); rerr != nil {
		slog.Error("Failed to write audit entry", "box_id", boxID, "stage", model.StageAggregate, "error", rerr)
	}
}

// consume is the single writer of agg and the store. A returned error aborts the run.
func (r *Runner) consume(ctx context.Context, agg *aggregate.Aggregator, out outcome, result *Result) (string, error) {
	in := out.input

	if out.err != nil {
		if errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded) {
			result.Cancelled = append(result.Cancelled, in.Number)
			return StatusCancelled, nil
		}

		result.Failures = append(result.Failures, Failure{Input: in, Err: out.err})

		var extErr *extract.ExtractionError
		if !errors.As(out.err, &extErr) {
			slog.Error("Page failed", "page", in.Number, "box_id", in.BoxID, "error", out.err)
			return StatusFailed, nil
		}

		slog.Warn("Excluding box after extraction failure",
			"page", in.Number, "box_id", in.BoxID, "reason", extErr.Reason, "error", extErr)
		excluded := model.ExcludedBox{
			BoxID:      in.BoxID,
			PageNumber: in.Number,
			Reason:     string(extErr.Reason),
			Detail:     extErr.Error(),
		}
		if err := agg.Exclude(excluded); err != nil {
			slog.Warn("Box not excluded", "box_id", in.BoxID, "error", err)
			r.recordRejection(in.BoxID, err)
			return StatusFailed, nil
		}
		if r.stages.Store != nil {
			if err := r.withRetry(ctx, func() error {
				return r.stages.Store.SaveExclusion(ctx, r.opts.RunID, excluded)
			}); err != nil {
				return StatusExcluded, fmt.Errorf("failed to persist exclusion of %s: %w", in.BoxID, err)
			}
		}
		return StatusExcluded, nil
	}

	record := out.extraction.Record
	batch := aggregate.Batch{
		BoxID:              record.BoxID,
		PageNumber:         record.PageNumber,
		Tallies:            out.resolution.Tallies,
		Discrepancies:      len(out.discreps),
		LowConfidence:      out.extraction.HasWarning(extract.WarnLowConfidence),
		SignatureShortfall: out.extraction.HasWarning(extract.WarnSignatureShortfall),
	}
	if err := agg.Add(batch); err != nil {
		result.Failures = append(result.Failures, Failure{Input: in, Err: err})
		slog.Warn("Box rejected by aggregator", "page", in.Number, "box_id", record.BoxID, "error", err)
		r.recordRejection(record.BoxID, err)
		return StatusFailed, nil
	}

	box := model.BoxResult{
		Record:        record,
		Tallies:       out.resolution.Tallies,
		Discrepancies: out.resolution.Discrepancies,
	}
	result.Boxes = append(result.Boxes, box)

	for _, m := range out.resolution.Missing {
		slog.Warn("Missing human verification", "box_id", m.BoxID, "candidate", m.CandidateID, "machine", m.Machine)
	}
	slog.Debug("Box reconciled", "page", in.Number, "box_id", record.BoxID, "discrepancies", len(out.discreps))

	if r.stages.Store != nil {
		if err := r.withRetry(ctx, func() error {
			return r.stages.Store.SaveBox(ctx, r.opts.RunID, &box)
		}); err != nil {
			return StatusProcessed, fmt.Errorf("failed to persist %s: %w", record.BoxID, err)
		}
	}
	return StatusProcessed, nil
}

func (r *Runner) withRetry(ctx context.Context, op func() error) error {
	return common.WithRetry(ctx, func() error {
		err := op()
		if storage.IsBusy(err) {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		return err
	}, r.opts.Retry)
}

func (r *Runner) report(p Progress) {
	if r.opts.Progress != nil {
		r.opts.Progress(p)
	}
}

// ExpectedBoxes lists the box ids of the first count pages in 1..pageCount
// that are not summary pages.
func ExpectedBoxes(pageCount, count int, skipPages []int) []string {
	skip := make(map[int]struct{}, len(skipPages))
	for _, p := range skipPages {
		skip[p] = struct{}{}
	}
	ids := make([]string, 0, count)
	for p := 1; p <= pageCount && len(ids) < count; p++ {
		if _, ok := skip[p]; ok {
			continue
		}
		ids = append(ids, layout.BoxIDForPage(p))
	}
	return ids
}
