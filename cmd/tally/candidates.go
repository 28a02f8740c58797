package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tally-reconcile/internal/cli"
)

func candidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates",
		Short: "List the configured candidates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			renderer, err := newRenderer(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatTitle("Candidates"))
			_, _ = fmt.Fprint(out, renderer.Candidates())
			return nil
		},
	}
}
