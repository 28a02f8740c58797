package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/aggregate"
	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/cli"
	"github.com/Veraticus/tally-reconcile/internal/common"
	"github.com/Veraticus/tally-reconcile/internal/config"
	"github.com/Veraticus/tally-reconcile/internal/extract"
	"github.com/Veraticus/tally-reconcile/internal/layout"
	"github.com/Veraticus/tally-reconcile/internal/model"
	"github.com/Veraticus/tally-reconcile/internal/ocr/tesseract"
	"github.com/Veraticus/tally-reconcile/internal/pipeline"
	"github.com/Veraticus/tally-reconcile/internal/reconcile"
	"github.com/Veraticus/tally-reconcile/internal/report"
	"github.com/Veraticus/tally-reconcile/internal/service"
	"github.com/Veraticus/tally-reconcile/internal/storage"
)

var imageExtensions = []string{"png", "tif", "tiff", "jpg", "jpeg", "bmp"}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile machine and human counts into the final tally",
		Long: `Extract every page of the tally report, reconcile the machine count with
the human-verified count for each candidate, and aggregate the final tally.

Pages are read either as recognized layout files (page_NNN.json) or as
scanned images (page_NNN.png, .tif, .jpg) recognized with Tesseract.
Boxes that fail extraction are excluded and listed in the report.`,
		RunE: runReconcile,
	}

	cmd.Flags().String("layouts", "", "directory of page_NNN.json layout files")
	cmd.Flags().String("images", "", "directory of page_NNN scanned images")
	cmd.Flags().String("engine", "tesseract", "recognition engine for --images")
	cmd.Flags().Int("expected", 0, "number of ballot boxes expected (default from config)")
	cmd.Flags().Int("workers", 0, "concurrent page workers (default from config)")
	cmd.Flags().String("strategy", "", "resolution strategy: override or sum (default from config)")
	cmd.Flags().String("out", "", "write the run as a JSON document to this file")
	cmd.Flags().Bool("no-store", false, "do not persist the run to the database")
	cmd.Flags().Bool("no-progress", false, "hide the progress bar")

	return cmd
}

type reconcileFlags struct {
	layouts    string
	images     string
	engine     string
	strategy   string
	out        string
	expected   int
	workers    int
	noStore    bool
	noProgress bool
}

func readReconcileFlags(cmd *cobra.Command) reconcileFlags {
	var f reconcileFlags
	f.layouts, _ = cmd.Flags().GetString("layouts")
	f.images, _ = cmd.Flags().GetString("images")
	f.engine, _ = cmd.Flags().GetString("engine")
	f.strategy, _ = cmd.Flags().GetString("strategy")
	f.out, _ = cmd.Flags().GetString("out")
	f.expected, _ = cmd.Flags().GetInt("expected")
	f.workers, _ = cmd.Flags().GetInt("workers")
	f.noStore, _ = cmd.Flags().GetBool("no-store")
	f.noProgress, _ = cmd.Flags().GetBool("no-progress")
	return f
}

// apply folds command line overrides into cfg and revalidates it.
func (f reconcileFlags) apply(cfg *config.Config) error {
	if f.expected > 0 {
		cfg.Report.ExpectedBoxes = f.expected
	}
	if f.workers > 0 {
		cfg.Pipeline.Workers = f.workers
	}
	if f.strategy != "" {
		cfg.Pipeline.Strategy = strings.ToLower(f.strategy)
	}
	return cfg.Validate()
}

// pageSource resolves the page inputs and the recognizer that reads them.
func (f reconcileFlags) pageSource(cfg *config.Config) ([]layout.PageInput, layout.Recognizer, string, error) {
	switch {
	case f.layouts != "" && f.images != "":
		return nil, nil, "", common.NewUserError("use either --layouts or --images, not both", nil)
	case f.layouts != "":
		inputs, err := layout.Discover(f.layouts, []string{"json"}, false)
		if err != nil {
			return nil, nil, "", err
		}
		return inputs, layout.NewJSONRecognizer(), f.layouts, nil
	case f.images != "":
		if f.engine != "tesseract" {
			return nil, nil, "", common.NewUserError(fmt.Sprintf("unknown recognition engine %q", f.engine), nil)
		}
		inputs, err := layout.Discover(f.images, imageExtensions, true)
		if err != nil {
			return nil, nil, "", err
		}
		engine := tesseract.NewEngine(
			tesseract.WithLanguages(cfg.Extraction.Languages...),
			tesseract.WithMinWidth(cfg.Extraction.MinWidth),
		)
		return inputs, engine, f.images, nil
	}
	return nil, nil, "", common.NewUserError("one of --layouts or --images is required", nil)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := readReconcileFlags(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := flags.apply(cfg); err != nil {
		return err
	}
	candidates, err := cfg.CandidateSet()
	if err != nil {
		return err
	}
	strategy, err := reconcile.StrategyByName(cfg.Pipeline.Strategy)
	if err != nil {
		return err
	}

	inputs, recognizer, source, err := flags.pageSource(cfg)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w in %s", common.ErrNoPages, source)
	}

	expected := pipeline.ExpectedBoxes(cfg.Report.PageCount, cfg.Report.ExpectedBoxes, cfg.Report.SkipPages)
	run := &model.Run{
		ID:            uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		Strategy:      strategy.Name(),
		Source:        source,
		Status:        model.RunRunning,
		BoxesExpected: len(expected),
	}

	var store *storage.SQLiteStorage
	var logOpts []audit.Option
	if !flags.noStore {
		store, err = openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStorage(store)
		if err := store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		logOpts = append(logOpts, audit.WithSink(store.AuditSink(run.ID)))
	}

	log := audit.NewLog(logOpts...)
	stages := pipeline.Stages{
		Extractor: extract.NewExtractor(recognizer, candidates, log, extract.Options{
			PageCount:          cfg.Report.PageCount,
			ExpectedSignatures: cfg.Extraction.ExpectedSignatures,
			MinHumanConfidence: cfg.Extraction.MinHumanConfidence,
		}),
		Detector: reconcile.NewDetector(log),
		Engine:   reconcile.NewEngine(strategy, log),
		Log:      log,
	}
	if store != nil {
		stages.Store = store
	}

	bar := newProgressBar(cmd.ErrOrStderr(), len(inputs), flags.noProgress)
	runner, err := pipeline.NewRunner(stages, pipeline.Options{
		RunID:     run.ID,
		Workers:   cfg.Pipeline.Workers,
		SkipPages: cfg.Report.SkipPages,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
		},
		Progress: func(p pipeline.Progress) {
			if err := bar.Add(1); err != nil {
				slog.Debug("Failed to update progress bar", "error", err)
			}
			if p.Status != pipeline.StatusProcessed && p.Status != pipeline.StatusSkipped {
				slog.Debug("Page not totalled", "page", p.Page, "box_id", p.BoxID, "status", p.Status)
			}
		},
	})
	if err != nil {
		return err
	}

	slog.Info("Starting reconciliation",
		"run_id", run.ID,
		"pages", len(inputs),
		"expected_boxes", len(expected),
		"strategy", strategy.Name(),
		"workers", cfg.Pipeline.Workers)

	agg := aggregate.New(expected,
		aggregate.WithRecorder(log),
		aggregate.WithStrategy(strategy.Name()),
		aggregate.WithCandidates(candidates.IDs()),
	)
	result, runErr := runner.Run(ctx, agg, inputs)
	_ = bar.Finish()

	out := cmd.OutOrStdout()
	printFailures(cmd.ErrOrStderr(), result)

	// Bookkeeping after the run must not be lost to an interrupt.
	finishCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if store != nil {
			if err := store.FinishRun(finishCtx, run.ID, model.RunFailed); err != nil {
				slog.Warn("Failed to mark run as failed", "run_id", run.ID, "error", err)
			}
		}
		var incomplete *aggregate.IncompleteReportError
		if errors.As(runErr, &incomplete) {
			_, _ = fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("Report incomplete: %d boxes were never accounted for", len(incomplete.Missing))))
		}
		return runErr
	}

	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, renderer.Report(result.Report))

	if store != nil {
		if err := store.SaveReport(finishCtx, run.ID, result.Report); err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		if err := store.FinishRun(finishCtx, run.ID, model.RunCompleted); err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		run.Status = model.RunCompleted
		_, _ = fmt.Fprintln(out, cli.FormatInfo("Run "+run.ID+" saved to "+store.Path()))
	}

	if flags.out != "" {
		var discrepancies []model.Discrepancy
		for _, b := range result.Boxes {
			discrepancies = append(discrepancies, b.Discrepancies...)
		}
		doc := report.NewDocument(run, result.Report, cfg.Candidates, result.Tallies(), discrepancies, log.Entries())
		if err := report.WriteFile(flags.out, doc); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, cli.FormatSuccess("Wrote "+flags.out))
	}

	return nil
}

func printFailures(w io.Writer, result *pipeline.Result) {
	if result == nil {
		return
	}
	for _, f := range result.Failures {
		var exErr *extract.ExtractionError
		if errors.As(f.Err, &exErr) {
			continue
		}
		_, _ = fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("page %d: %v", f.Input.Number, f.Err)))
	}
	if len(result.Cancelled) > 0 {
		_, _ = fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%d pages cancelled before extraction", len(result.Cancelled))))
	}
}

func newProgressBar(w io.Writer, total int, hidden bool) *progressbar.ProgressBar {
	if hidden {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Reconciling pages...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
