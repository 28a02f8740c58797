package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/cli"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored reconciliation runs",
		RunE:  runRuns,
	}
	cmd.Flags().Int("limit", 20, "maximum number of runs to list")
	return cmd
}

func runRuns(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage(store)

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("No runs recorded yet"))
		return nil
	}
	for _, r := range runs {
		_, _ = fmt.Fprintf(out, "%s  %-9s  %-8s  %3d boxes  %s  %s\n",
			r.ID, cli.FormatStatus(string(r.Status)), r.Strategy, r.BoxesExpected, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Source)
	}
	return nil
}
