package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danshapiro/hybrid/internal/backend"
	"github.com/danshapiro/hybrid/internal/config"
	"github.com/danshapiro/hybrid/internal/gitutil"
	"github.com/danshapiro/hybrid/internal/runlog"
	"github.com/danshapiro/hybrid/internal/validate"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify environment (Ollama, codex CLI, git, validator, run log)",
		RunE:  runDoctor,
	}
	cmd.Flags().String("ollama-url", "", "Ollama API root to check (default "+backend.DefaultOllamaBaseURL+")")
	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(root, configPath)
	if err != nil {
		warn("%v", err)
		cfg = config.File{}
	}
	opts := config.Effective(root, config.Flags{}, config.Session{}, cfg)

	failures := 0

	if gitutil.IsRepo(root) {
		fmt.Println("[OK] Git repository detected.")
	} else {
		fmt.Fprintln(os.Stderr, "[WARN] Not inside a git repository; apply and stash are unavailable.")
	}

	ollamaURL, _ := cmd.Flags().GetString("ollama-url")
	ollama := backend.NewOllamaClient(ollamaURL, nil)
	if err := ollama.Check(cmd.Context()); err != nil {
		if errors.Is(err, backend.ErrUnreachable) {
			fmt.Fprintln(os.Stderr, "[ERR] Ollama unreachable. Is the server running? Try: ollama serve")
			fmt.Fprintf(os.Stderr, "      %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "[ERR] Ollama check: %v\n", err)
		}
		failures++
	} else {
		fmt.Printf("[OK] Ollama reachable (model %s).\n", backend.PickOllamaModel(opts.OllamaModel))
	}

	if err := backend.NewCodexCLI("").Check(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERR] %v\n", err)
		failures++
	} else {
		fmt.Println("[OK] Codex CLI found.")
	}

	if path := validate.Discover(root); path != "" {
		fmt.Printf("[OK] Validator: %s\n", path)
	} else {
		fmt.Println("[INFO] No validator configured; diffs are accepted as produced.")
	}

	if opts.LogFile != "" {
		records, err := runlog.ReadRecords(opts.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERR] Run log unreadable: %v\n", err)
			failures++
		} else {
			fmt.Printf("[OK] Run log: %d record(s) at %s.\n", len(records), opts.LogFile)
		}
	}

	if failures > 0 {
		return errExit(1)
	}
	fmt.Println("[OK] Environment ready.")
	return nil
}
