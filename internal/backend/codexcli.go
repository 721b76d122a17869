package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultCodexExecutable is the escalation CLI looked up on PATH.
// Overridable via HYBRID_CODEX_PATH, mirroring how provider CLI paths
// are usually pinned in CI.
const DefaultCodexExecutable = "codex-local"

// CodexCLI invokes the external codex-local executable and captures its
// stdout. Expects ONLY a unified diff on stdout.
type CodexCLI struct {
	exe string
}

// NewCodexCLI builds a codex CLI backend. exe defaults to
// HYBRID_CODEX_PATH, then "codex-local".
func NewCodexCLI(exe string) *CodexCLI {
	if exe == "" {
		exe = envOr("HYBRID_CODEX_PATH", DefaultCodexExecutable)
	}
	return &CodexCLI{exe: exe}
}

func (c *CodexCLI) Name() string { return "codex-cli" }

// Attempt runs `codex-local --models <models> --prompt <prompt> [--file f]...`
// and returns stdout. Non-zero exit or empty output is a failed attempt.
func (c *CodexCLI) Attempt(ctx context.Context, models string, prompt string, files []string) (bool, string, string) {
	args := []string{"--models", models, "--prompt", prompt}
	for _, f := range files {
		args = append(args, "--file", f)
	}
	cmd := exec.CommandContext(ctx, c.exe, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Stdin = strings.NewReader("")
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, "", fmt.Sprintf("[ERR] %s not found on PATH", c.exe)
		}
		if ctx.Err() != nil {
			return false, "", fmt.Sprintf("[ERR] CodexCLI timed out: %v", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, "", fmt.Sprintf("[ERR] CodexCLI failed (exit %d): %s", exitErr.ExitCode(), text)
		}
		return false, "", fmt.Sprintf("[ERR] Unexpected CodexCLI error: %v", err)
	}
	if text == "" {
		return false, "", "[ERR] Empty response from CodexCLI"
	}
	return true, text, "[OK]"
}

// Check verifies the executable resolves on PATH (or, for an explicit
// path, exists and is executable).
func (c *CodexCLI) Check() error {
	if _, err := exec.LookPath(c.exe); err != nil {
		return fmt.Errorf("codex CLI %q not found: %w", c.exe, err)
	}
	return nil
}

func envOr(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
