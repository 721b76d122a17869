package repair

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danshapiro/hybrid/internal/runlog"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func gitLog(t *testing.T, dir string) string {
	t.Helper()
	cmd := exec.Command("git", "-C", dir, "log", "--oneline")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git log: %v\n%s", err, out)
	}
	return string(out)
}

// fixedRun returns a Run function that always reports one outcome.
func fixedRun(rc int, out string) func(context.Context, string) (int, string, string, time.Duration) {
	return func(ctx context.Context, command string) (int, string, string, time.Duration) {
		return rc, out, "", 10 * time.Millisecond
	}
}

func TestLoopPassesImmediately(t *testing.T) {
	dir := initTestRepo(t)
	logPath := filepath.Join(dir, "workspace", "repair.jsonl")
	run := fixedRun(0, "ok")
	var printed []string
	r := &Runner{
		Root:    dir,
		Tests:   "true",
		LogPath: logPath,
		Run:     run,
		Solve: func(ctx context.Context, prompt string) (int, string) {
			t.Fatal("solver must not run when tests pass")
			return 1, ""
		},
		Printf: func(format string, args ...any) {
			printed = append(printed, fmt.Sprintf(format, args...))
		},
	}
	if got := r.Loop(context.Background()); got != StatusPassed {
		t.Fatalf("status = %d, want %d", got, StatusPassed)
	}
	if len(printed) != 1 || !strings.Contains(printed[0], "Tests passing at iteration 1") {
		t.Fatalf("output = %v", printed)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"result":"pass"`) {
		t.Fatalf("log = %s", data)
	}
}

func TestLoopStallsOnRepeatedFailureSignature(t *testing.T) {
	dir := initTestRepo(t)
	run := fixedRun(1, "FAILED test_x")
	patch := 0
	r := &Runner{
		Root:       dir,
		Tests:      "false",
		StallLimit: 2,
		MaxIters:   10,
		Run:        run,
		Solve: func(ctx context.Context, prompt string) (int, string) {
			// Touch the tree so the loop commits and the stall comes
			// from the unchanged failure digest, not from inactivity.
			patch++
			content := fmt.Sprintf("attempt %d\n", patch)
			if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			return 0, "[OK]"
		},
		Printf: func(string, ...any) {},
	}
	if got := r.Loop(context.Background()); got != StatusStalled {
		t.Fatalf("status = %d, want %d", got, StatusStalled)
	}
	if patch != 2 {
		t.Fatalf("solver ran %d times, want 2", patch)
	}
	if log := gitLog(t, dir); strings.Count(log, "chore(self-repair): automated patch") != 2 {
		t.Fatalf("commits:\n%s", log)
	}
}

func TestLoopStallsWhenSolverChangesNothing(t *testing.T) {
	dir := initTestRepo(t)
	run := fixedRun(1, "FAILED test_x")
	var printed []string
	r := &Runner{
		Root:       dir,
		Tests:      "false",
		StallLimit: 1,
		Run:        run,
		Solve:      func(ctx context.Context, prompt string) (int, string) { return 1, "[ERR] exhausted" },
		Printf: func(format string, args ...any) {
			printed = append(printed, fmt.Sprintf(format, args...))
		},
	}
	if got := r.Loop(context.Background()); got != StatusStalled {
		t.Fatalf("status = %d, want %d", got, StatusStalled)
	}
	joined := strings.Join(printed, "\n")
	if !strings.Contains(joined, "No changes applied") {
		t.Fatalf("output = %q", joined)
	}
}

func TestLoopHitsIterationLimit(t *testing.T) {
	dir := initTestRepo(t)
	iter := 0
	r := &Runner{
		Root:     dir,
		Tests:    "false",
		MaxIters: 3,
		Run: func(ctx context.Context, command string) (int, string, string, time.Duration) {
			iter++
			// A fresh failure signature every run keeps the digest
			// stall from firing before the iteration budget.
			return 1, fmt.Sprintf("FAILED test_%d", iter), "", time.Millisecond
		},
		Solve: func(ctx context.Context, prompt string) (int, string) {
			content := fmt.Sprintf("attempt %d\n", iter)
			if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			return 0, "[OK]"
		},
		Printf: func(string, ...any) {},
	}
	if got := r.Loop(context.Background()); got != StatusIterLimit {
		t.Fatalf("status = %d, want %d", got, StatusIterLimit)
	}
	if iter != 3 {
		t.Fatalf("ran %d iterations, want 3", iter)
	}
}

func TestLoopStashesDirtyTree(t *testing.T) {
	dir := initTestRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "greeting.txt"), []byte("uncommitted\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run := fixedRun(0, "ok")
	r := &Runner{
		Root:   dir,
		Tests:  "true",
		Run:    run,
		Solve:  func(ctx context.Context, prompt string) (int, string) { return 0, "" },
		Printf: func(string, ...any) {},
	}
	if got := r.Loop(context.Background()); got != StatusPassed {
		t.Fatalf("status = %d", got)
	}
	data, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("dirty edit survived the stash: %q", data)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("src/", "pytest -q", "FAILED test_a", " M a.py", "diff body")
	if !strings.HasPrefix(prompt, "RETURN ONLY A MINIMAL UNIFIED DIFF") {
		t.Fatalf("prompt = %q", prompt)
	}
	for _, want := range []string{`"src/"`, "Test command: pytest -q", "FAILED test_a", " M a.py", "diff body"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestTailAndDigest(t *testing.T) {
	long := strings.Repeat("x\n", 100) + "last line"
	if got := Tail(long, 2); got != "x\nlast line" {
		t.Fatalf("tail = %q", got)
	}
	if got := Tail("short", 10); got != "short" {
		t.Fatalf("tail of short input = %q", got)
	}
	a := Digest(strings.Repeat("same failure\n", 60))
	b := Digest("padding\n" + strings.Repeat("same failure\n", 60))
	if len(a) != 16 {
		t.Fatalf("digest length = %d, want 16", len(a))
	}
	// Only the last 50 lines count, so an earlier prefix is ignored.
	if a != b {
		t.Fatalf("digests differ despite identical tails: %s vs %s", a, b)
	}
	if a == Digest("different failure") {
		t.Fatal("distinct failures share a digest")
	}
}

func TestRepairLogRecordsStepShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repair.jsonl")
	if err := runlog.AppendJSON(path, testStep{Step: 1, TestExit: 2, TestMillis: 12.5, Result: "fail", FailureDigest: "abcd"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"step":1`, `"test_exit":2`, `"test_ms":12.5`, `"failure_digest":"abcd"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log line missing %s: %s", want, data)
		}
	}
}
