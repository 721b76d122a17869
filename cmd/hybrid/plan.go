package main

import (
	"github.com/spf13/cobra"
)

// newPlanCmd is "solve --context-plan" under its own name: it shares the
// full solve flag set so routing, globs, and templates all take effect.
func newPlanCmd() *cobra.Command {
	cmd := newSolveCmd()
	cmd.Use = "plan"
	cmd.Short = "Show the prompt solve would send, without contacting models"
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Set("context-plan", "true"); err != nil {
			return err
		}
		return runSolve(cmd, args)
	}
	return cmd
}
