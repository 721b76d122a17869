package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/danshapiro/hybrid/internal/backend"
	"github.com/danshapiro/hybrid/internal/config"
	"github.com/danshapiro/hybrid/internal/gitutil"
	"github.com/danshapiro/hybrid/internal/repair"
	"github.com/danshapiro/hybrid/internal/resolve"
	"github.com/danshapiro/hybrid/internal/validate"
)

func newSelfRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self-repair",
		Short: "Run tests and keep asking the solver for fixes until they pass",
		RunE:  runSelfRepair,
	}
	f := cmd.Flags()
	f.String("scope", "src/", "Directory the solver may edit")
	f.String("tests", "pytest -q", "Test command to run each iteration")
	f.Int("max-iters", 5, "Maximum repair iterations")
	f.Float64("timeout-sec", 900, "Per-command timeout in seconds")
	f.Int("stall-limit", 2, "Give up after this many identical failures")
	f.Bool("prefer-codex", true, "Skip Ollama and escalate straight to the codex CLI")
	return cmd
}

func runSelfRepair(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	if !gitutil.IsRepo(root) {
		fmt.Fprintln(os.Stderr, "[ERR] self-repair needs a git repository; patches are committed per iteration.")
		return errExit(2)
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(root, configPath)
	if err != nil {
		warn("%v", err)
		cfg = config.File{}
	}
	opts := config.Effective(root, config.Flags{}, config.Session{}, cfg)

	scope, _ := cmd.Flags().GetString("scope")
	tests, _ := cmd.Flags().GetString("tests")
	maxIters, _ := cmd.Flags().GetInt("max-iters")
	timeoutSec, _ := cmd.Flags().GetFloat64("timeout-sec")
	stallLimit, _ := cmd.Flags().GetInt("stall-limit")
	preferCodex, _ := cmd.Flags().GetBool("prefer-codex")

	maxOllama := 1
	if preferCodex {
		maxOllama = 0
	}

	engine := &resolve.Engine{
		Fast:     backend.NewOllamaClient("", nil),
		Fallback: backend.NewCodexCLI(""),
	}
	if path := validate.Discover(root); path != "" {
		engine.Validator = &validate.Runner{Path: path}
	}

	solve := func(ctx context.Context, prompt string) (int, string) {
		res := engine.Resolve(ctx, resolve.Request{
			Prompt:            prompt,
			Root:              root,
			OllamaModel:       opts.OllamaModel,
			CodexModels:       opts.CodexModels,
			MaxOllamaAttempts: maxOllama,
			OllamaBackoff:     backoffPolicy(opts.OllamaBackoff),
			CodexBackoff:      backoffPolicy(opts.CodexBackoff),
			WorkspaceDir:      filepath.Join(root, "workspace"),
			ArchiveMaxEntries: opts.ArchiveMaxEntries,
			LogFile:           opts.LogFile,
		})
		if res.Returncode != 0 {
			return res.Returncode, res.Message
		}
		rc, msg := gitutil.ApplyDiff(root, res.DiffText, false)
		if rc != 0 {
			return rc, msg
		}
		return 0, res.Message
	}

	runner := &repair.Runner{
		Root:       root,
		Scope:      scope,
		Tests:      tests,
		MaxIters:   maxIters,
		StallLimit: stallLimit,
		Timeout:    time.Duration(timeoutSec * float64(time.Second)),
		LogPath: filepath.Join(root, "workspace",
			fmt.Sprintf("self_repair_%s.jsonl", time.Now().Format("20060102_150405"))),
		Solve: solve,
	}
	if status := runner.Loop(cmd.Context()); status != repair.StatusPassed {
		return errExit(status)
	}
	return nil
}
