package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/cli"
	"github.com/Veraticus/tally-reconcile/internal/report"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the final tally of a stored run",
		Long: `Show the aggregate report of a reconciliation run saved in the database.
Without --run the most recent run is shown.`,
		RunE: runReport,
	}

	cmd.Flags().String("run", "", "run id (default: latest run)")
	cmd.Flags().String("box", "", "show the resolved tallies of one box instead")
	cmd.Flags().String("out", "", "write the run as a JSON document to this file")

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	runID, _ := cmd.Flags().GetString("run")
	boxID, _ := cmd.Flags().GetString("box")
	outPath, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	run, err := resolveRun(ctx, store, runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if boxID != "" {
		tallies, err := store.GetResolvedTallies(ctx, run.ID, boxID)
		if err != nil {
			return err
		}
		if len(tallies) == 0 {
			return fmt.Errorf("box %s has no resolved tallies in run %s", boxID, run.ID)
		}
		_, _ = fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("%s (run %s)", boxID, run.ID)))
		_, _ = fmt.Fprint(out, renderer.Tallies(tallies))
		return nil
	}

	rep, err := store.GetReport(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("run %s has no final report (status %s): %w", run.ID, run.Status, err)
	}
	_, _ = fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Run %s, %s, started %s", run.ID, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04"))))
	_, _ = fmt.Fprint(out, renderer.Report(rep))

	if outPath == "" {
		return nil
	}
	tallies, err := store.GetResolvedTallies(ctx, run.ID, "")
	if err != nil {
		return err
	}
	discrepancies, err := store.GetDiscrepancies(ctx, run.ID)
	if err != nil {
		return err
	}
	trail, err := store.GetAuditTrail(ctx, run.ID, "")
	if err != nil {
		return err
	}
	if err := report.WriteFile(outPath, report.NewDocument(run, rep, cfg.Candidates, tallies, discrepancies, trail)); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Wrote "+outPath))
	return nil
}
