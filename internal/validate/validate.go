// Package validate runs a caller-supplied executable over a candidate
// diff and folds the process outcome into a tagged verdict. All
// subprocess and timeout handling lives here so the orchestrator never
// branches on raw exit codes.
package validate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Verdict tags the validator outcome.
type Verdict string

const (
	// VerdictAccepted means the diff passed; Text carries the final diff
	// (the validator's stdout when it rewrote the candidate).
	VerdictAccepted Verdict = "accepted"
	// VerdictRejected means the validator refused the diff; Reason
	// carries its diagnostic verbatim.
	VerdictRejected Verdict = "rejected"
	// VerdictError means the validator itself could not run (missing
	// executable, crash, timeout). Treated as rejection: fail closed.
	VerdictError Verdict = "error"
)

// Result is the tagged outcome of one validator invocation.
type Result struct {
	Verdict Verdict
	Text    string // accepted: the (possibly rewritten) diff
	Reason  string // rejected/error: diagnostic text
}

// DefaultTimeout bounds one validator run.
const DefaultTimeout = 120 * time.Second

// Runner invokes an external validator executable with the candidate
// diff on standard input.
type Runner struct {
	// Path of the validator executable. Empty means no validator is
	// configured and every shape-valid diff is accepted unchanged.
	Path string
	// Timeout for one invocation; DefaultTimeout when zero.
	Timeout time.Duration
}

// Discover finds a conventional validator under root: config/validate_diff,
// then config/validate_diff.py. Returns "" when neither exists.
func Discover(root string) string {
	for _, name := range []string{"validate_diff", "validate_diff.py"} {
		p := filepath.Join(root, "config", name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Run validates diffText. With no configured path the diff is accepted
// unchanged. Exit 0 with empty stdout accepts the candidate; exit 0 with
// stdout accepts the stdout content as a rewrite; nonzero exit rejects
// with stderr (or stdout) as the reason. A validator that cannot run at
// all yields VerdictError, which callers must treat as rejection.
func (r Runner) Run(ctx context.Context, diffText string) Result {
	if strings.TrimSpace(r.Path) == "" {
		return Result{Verdict: VerdictAccepted, Text: diffText}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := command(r.Path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(diffText)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{Verdict: VerdictError, Reason: "validator timed out after " + timeout.String()}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			reason := strings.TrimSpace(stderr.String())
			if reason == "" {
				reason = strings.TrimSpace(stdout.String())
			}
			if reason == "" {
				reason = "validator exited with status " + strconv.Itoa(exitErr.ExitCode())
			}
			return Result{Verdict: VerdictRejected, Reason: reason}
		}
		return Result{Verdict: VerdictError, Reason: "validator failed to run: " + err.Error()}
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		return Result{Verdict: VerdictAccepted, Text: out}
	}
	return Result{Verdict: VerdictAccepted, Text: diffText}
}

// command wraps .py validators in python3; everything else executes
// directly.
func command(path string) []string {
	if strings.HasSuffix(path, ".py") {
		return []string{"python3", path}
	}
	return []string{path}
}

