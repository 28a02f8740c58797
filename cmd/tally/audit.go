package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/audit"
	"github.com/Veraticus/tally-reconcile/internal/cli"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit trail of a stored run",
		Long: `Print the audit entries of a run in sequence order. With --box only the
entries of that box are shown, tracing its final numbers back to the page.
With --verify the hash chain of the whole run is checked first.`,
		RunE: runAudit,
	}

	cmd.Flags().String("run", "", "run id (default: latest run)")
	cmd.Flags().String("box", "", "only show entries for this box id")
	cmd.Flags().Bool("verify", false, "verify the hash chain of the run")

	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	runID, _ := cmd.Flags().GetString("run")
	boxID, _ := cmd.Flags().GetString("box")
	verify, _ := cmd.Flags().GetBool("verify")

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

	if verify {
		// The chain spans every box, so it is checked on the full trail.
		full, err := store.GetAuditTrail(ctx, run.ID, "")
		if err != nil {
			return err
		}
		if err := audit.Verify(full); err != nil {
			_, _ = fmt.Fprintln(out, cli.FormatError("Audit chain broken"))
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
		_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Audit chain intact (%d entries)", len(full))))
	}

	entries, err := store.GetAuditTrail(ctx, run.ID, boxID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no audit entries for %q in run %s", boxID, run.ID)
	}
	_, _ = fmt.Fprint(out, renderer.Trail(entries))
	return nil
}
