package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danshapiro/hybrid/internal/gitutil"
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the most recent diff from workspace/last.diff",
		RunE:  runApply,
	}
	cmd.Flags().Bool("preview", false, "Validate with git apply --check without modifying the tree")
	return cmd
}

func runApply(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	path := filepath.Join(root, "workspace", "last.diff")
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERR] workspace/last.diff not found; run solve first.")
		return errExit(2)
	}
	preview, _ := cmd.Flags().GetBool("preview")
	rc, msg := gitutil.ApplyDiff(root, string(data), preview)
	if rc != 0 {
		fmt.Fprintln(os.Stderr, msg)
		return errExit(rc)
	}
	fmt.Println(msg)
	return nil
}
