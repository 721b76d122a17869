// Package repair drives the test-fix-commit loop: run the test command,
// feed the failure tail to the solver as a strict diff-only request,
// commit whatever it changed, and repeat until the tests pass or the
// failure signature stalls.
package repair

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/danshapiro/hybrid/internal/gitutil"
	"github.com/danshapiro/hybrid/internal/runlog"
)

// Loop exit codes.
const (
	StatusPassed    = 0
	StatusIterLimit = 1
	StatusStalled   = 4
)

const commitMessage = "chore(self-repair): automated patch"

// Runner holds the loop configuration. Solve produces and applies a
// diff for the given prompt and returns the solver's status and
// message. Run, Now, and Printf are injectable for tests; zero values
// get working defaults.
type Runner struct {
	Root       string
	Scope      string
	Tests      string
	MaxIters   int
	StallLimit int
	Timeout    time.Duration
	LogPath    string

	Solve  func(ctx context.Context, prompt string) (int, string)
	Run    func(ctx context.Context, command string) (rc int, stdout, stderr string, elapsed time.Duration)
	Now    func() time.Time
	Printf func(format string, args ...any)
}

type testStep struct {
	Step          int     `json:"step"`
	TestExit      int     `json:"test_exit"`
	TestMillis    float64 `json:"test_ms"`
	Result        string  `json:"result"`
	FailureDigest string  `json:"failure_digest,omitempty"`
}

type solverStep struct {
	Step          int     `json:"step"`
	SolverExit    int     `json:"solver_rc"`
	SolverMillis  float64 `json:"solver_ms"`
	SolverMessage string  `json:"solver_message,omitempty"`
}

// Loop runs until the tests pass (0), the iteration budget runs out
// (1), or the failure signature repeats StallLimit times (4). A dirty
// working tree is stashed first so every commit the loop makes holds
// exactly one automated patch.
func (r *Runner) Loop(ctx context.Context) int {
	if st, err := gitutil.StatusPorcelain(r.Root); err == nil && strings.TrimSpace(st) != "" {
		if ok, msg, _ := gitutil.StashPush(r.Root); !ok {
			r.printf("%s", msg)
		}
	}

	var prevDigest string
	stall := 0
	for i := 1; i <= r.maxIters(); i++ {
		rc, stdout, stderr, elapsed := r.run(ctx, r.Tests)
		if rc == 0 {
			r.log(testStep{Step: i, TestExit: rc, TestMillis: millis(elapsed), Result: "pass"})
			r.printf("[OK] Tests passing at iteration %d.", i)
			return StatusPassed
		}
		failTxt := strings.TrimSpace(Tail(stdout, 200) + "\n" + Tail(stderr, 200))
		digest := Digest(failTxt)
		r.log(testStep{Step: i, TestExit: rc, TestMillis: millis(elapsed), Result: "fail", FailureDigest: digest})

		if digest == prevDigest {
			stall++
			if stall >= r.stallLimit() {
				r.printf("[STALL] Failure signature unchanged for %d iters (digest %s).", stall, digest)
				return StatusStalled
			}
		} else {
			stall = 0
			prevDigest = digest
		}

		status, _ := gitutil.StatusPorcelain(r.Root)
		diff, _ := gitutil.WorkingDiff(r.Root)
		prompt := BuildPrompt(r.Scope, r.Tests, failTxt, status, diff)

		start := r.now()
		solverRC, msg := r.Solve(ctx, prompt)
		r.log(solverStep{Step: i, SolverExit: solverRC, SolverMillis: millis(r.now().Sub(start)), SolverMessage: Tail(msg, 50)})

		// Commit whatever the solver changed; an unchanged tree counts
		// toward the stall budget.
		after, _ := gitutil.WorkingDiff(r.Root)
		if strings.TrimSpace(after) != "" {
			if ok, commitMsg := gitutil.Commit(r.Root, commitMessage, nil); !ok {
				r.printf("%s", commitMsg)
			}
		} else {
			stall++
			if stall >= r.stallLimit() {
				r.printf("[STALL] No changes applied for %d iters; giving up.", stall)
				return StatusStalled
			}
		}
	}
	r.printf("[LIMIT] Reached max-iters without passing tests.")
	return StatusIterLimit
}

// BuildPrompt renders the strict diff-only request fed to the solver.
func BuildPrompt(scope, tests, failTxt, gitStatus, gitDiff string) string {
	rules := []string{
		"RETURN ONLY A MINIMAL UNIFIED DIFF (no prose, no fences).",
		fmt.Sprintf("Edit files ONLY under %q.", filepath.ToSlash(scope)),
		"Headers must be:\n--- a/<path>\n+++ b/<path>",
		"Include only the smallest hunks needed to make tests pass.",
	}
	return strings.Join(rules, "\n") +
		"\n\nTest command: " + tests +
		"\n\nFAIL (tail of stdout+stderr):\n" + Tail(failTxt, 120) +
		"\n\nGIT STATUS:\n" + Tail(gitStatus, 80) +
		"\n\nCURRENT DIFF (context only):\n" + Tail(gitDiff, 120)
}

// Tail returns the last n lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Digest fingerprints a failure by the last 50 lines of its output so
// consecutive identical failures are recognized as a stall.
func Digest(failTxt string) string {
	sum := sha256.Sum256([]byte(Tail(failTxt, 50)))
	return hex.EncodeToString(sum[:])[:16]
}

func (r *Runner) run(ctx context.Context, command string) (int, string, string, time.Duration) {
	if r.Run != nil {
		return r.Run(ctx, command)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	rc := 0
	if err != nil {
		rc = 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rc = exitErr.ExitCode()
		}
	}
	return rc, stdout.String(), stderr.String(), time.Since(start)
}

func (r *Runner) log(v any) {
	if err := runlog.AppendJSON(r.LogPath, v); err != nil {
		r.printf("[WARN] unable to write repair log: %v", err)
	}
}

func (r *Runner) maxIters() int {
	if r.MaxIters > 0 {
		return r.MaxIters
	}
	return 5
}

func (r *Runner) stallLimit() int {
	if r.StallLimit > 0 {
		return r.StallLimit
	}
	return 2
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) printf(format string, args ...any) {
	if r.Printf != nil {
		r.Printf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/1000*10) / 10
}
