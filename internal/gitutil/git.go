// Package gitutil wraps the git operations the apply path needs:
// status, stash push/pop, branch switching, patch application, commit.
package gitutil

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func runGit(dir string, args ...string) (string, string, error) {
	// Disable background auto-maintenance so applying and committing
	// diffs never spawns long-running helper processes.
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

// StatusShort returns `git status --short`, or a clean-tree message
// when nothing is modified.
func StatusShort(dir string) string {
	out, errOut, err := runGit(dir, "status", "--short")
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return "[ERR] " + msg
		}
		return "[ERR] git status failed."
	}
	if trimmed := strings.TrimSpace(out); trimmed != "" {
		return trimmed
	}
	return "[OK] Working tree clean."
}

// StatusPorcelain returns the machine-readable working tree status.
// Empty output means a clean tree.
func StatusPorcelain(dir string) (string, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	return out, err
}

// WorkingDiff returns the unstaged diff against the index.
func WorkingDiff(dir string) (string, error) {
	out, _, err := runGit(dir, "--no-pager", "diff")
	return out, err
}

// StashPush stashes tracked and untracked changes. The third return
// reports whether a stash entry was actually created; a clean tree
// succeeds without one.
func StashPush(dir string) (ok bool, message string, stashed bool) {
	out, errOut, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg, false
		}
		return false, "[ERR] git status failed; cannot stash.", false
	}
	if strings.TrimSpace(out) == "" {
		return true, "[OK] Working tree clean; no stash needed.", false
	}
	out, errOut, err = runGit(dir, "stash", "push", "-u", "-m", "hybrid temporary stash")
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg, false
		}
		return false, "[ERR] git stash failed.", false
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return true, msg, true
	}
	return true, "[OK] Stashed working tree.", true
}

// StashPop restores the most recent stash entry.
func StashPop(dir string) (bool, string) {
	out, errOut, err := runGit(dir, "stash", "pop")
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg
		}
		return false, "[ERR] git stash pop failed."
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return true, msg
	}
	return true, "[OK] Restored previous working tree."
}

// EnsureBranch switches to branch, creating it when absent. An empty
// branch name is a no-op.
func EnsureBranch(dir, branch string) (bool, string) {
	if branch == "" {
		return true, ""
	}
	out, errOut, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg
		}
		return false, "[ERR] Unable to determine current branch."
	}
	if strings.TrimSpace(out) == branch {
		return true, fmt.Sprintf("[OK] Already on branch %s", branch)
	}
	_, _, err = runGit(dir, "show-ref", "--verify", "refs/heads/"+branch)
	if err == nil {
		out, errOut, err = runGit(dir, "checkout", branch)
	} else {
		out, errOut, err = runGit(dir, "checkout", "-b", branch)
	}
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg
		}
		return false, "[ERR] Unable to checkout branch."
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return true, msg
	}
	return true, fmt.Sprintf("[OK] Switched to branch %s", branch)
}

// ApplyDiff writes the diff to a temp patch file, checks it with
// `git apply --check`, then applies it unless preview is set. Returns
// a nonzero code with an [ERR] message on failure.
func ApplyDiff(dir, diffText string, preview bool) (int, string) {
	normalized := strings.ReplaceAll(diffText, "\r\n", "\n")
	tmp, err := os.CreateTemp("", "hybrid-*.patch")
	if err != nil {
		return 1, fmt.Sprintf("[ERR] unable to write patch file: %v", err)
	}
	patchPath := tmp.Name()
	defer os.Remove(patchPath)
	if _, err := tmp.WriteString(normalized); err != nil {
		tmp.Close()
		return 1, fmt.Sprintf("[ERR] unable to write patch file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return 1, fmt.Sprintf("[ERR] unable to write patch file: %v", err)
	}

	stdout, errOut, err := runGit(dir, "apply", "--check", patchPath)
	if err != nil {
		detail := strings.TrimSpace(errOut)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		if detail == "" {
			detail = "git apply --check failed."
		}
		return 1, "[ERR] git apply --check failed: " + detail
	}
	if preview {
		return 0, "[OK] Diff validated (preview only)."
	}
	stdout, errOut, err = runGit(dir, "apply", patchPath)
	if err != nil {
		detail := strings.TrimSpace(errOut)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		if detail == "" {
			detail = "git apply failed."
		}
		return 1, "[ERR] git apply failed: " + detail
	}
	return 0, "[OK] Diff applied."
}

// Commit stages files (everything when the list is empty) and commits
// with message. An empty message is a no-op. A missing committer
// identity is retried once with a fallback identity.
func Commit(dir, message string, files []string) (bool, string) {
	if message == "" {
		return true, ""
	}
	addArgs := []string{"add"}
	if len(files) > 0 {
		addArgs = append(addArgs, files...)
	} else {
		addArgs = append(addArgs, "-A")
	}
	_, errOut, err := runGit(dir, addArgs...)
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg
		}
		return false, "[ERR] git add failed."
	}
	out, errOut, err := runGit(dir, "commit", "-m", message)
	if err != nil && identityMissing(err) {
		out, errOut, err = runGit(
			dir,
			"-c", "user.name=hybrid",
			"-c", "user.email=hybrid@local",
			"commit", "-m", message,
		)
	}
	if err != nil {
		if msg := strings.TrimSpace(errOut); msg != "" {
			return false, "[ERR] " + msg
		}
		return false, "[ERR] git commit failed."
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return true, msg
	}
	return true, "[OK] Commit created."
}

func identityMissing(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Author identity unknown") ||
		strings.Contains(s, "Please tell me who you are") ||
		strings.Contains(s, "unable to auto-detect email address")
}
