// Package resolve runs the attempt/escalation state machine that turns
// a change request into a validated unified diff: cache check, fast
// backend loop with backoff, fallback backend loop over a weighted
// model sequence, shape normalization, external validation, and
// persistence of the accepted diff.
package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danshapiro/hybrid/internal/backend"
	"github.com/danshapiro/hybrid/internal/diffshape"
	"github.com/danshapiro/hybrid/internal/promptkit"
	"github.com/danshapiro/hybrid/internal/runlog"
	"github.com/danshapiro/hybrid/internal/store"
	"github.com/danshapiro/hybrid/internal/validate"
)

// Result source tags.
const (
	SourceCache     = "cache"
	SourceOllama    = "ollama"
	SourceCodex     = "codex"
	SourceValidator = "validator"
	SourcePlan      = "plan"
)

// Result status codes.
const (
	StatusOK         = 0
	StatusExhausted  = 1
	StatusUsageError = 2
	StatusRejected   = 3
)

// Request carries everything one resolution needs. Prompt is the raw
// request text; the backend prompt is assembled here so plan mode and
// the real run share one scaffold.
type Request struct {
	Prompt     string
	Root       string
	Files      []string
	Preamble   string
	StdinText  string
	StdinLabel string

	OllamaModel       string
	CodexModels       string
	MaxOllamaAttempts int
	OllamaBackoff     BackoffPolicy
	CodexBackoff      BackoffPolicy

	CacheDir          string
	CacheKey          string
	CacheMetadata     store.Metadata
	CacheMaxEntries   int
	ArchiveMaxEntries int

	WorkspaceDir string
	LogFile      string
	PlanOnly     bool
}

// Result is the terminal outcome of one resolution. Immutable once
// returned.
type Result struct {
	Returncode int
	Message    string
	Source     string
	DiffText   string
	Attempts   []runlog.Attempt
}

// Engine wires the collaborators together. Sleep and Now are
// injectable so tests run without real waiting.
type Engine struct {
	Fast      backend.Generator
	Fallback  backend.Generator
	Validator *validate.Runner
	Sleep     func(time.Duration)
	Now       func() time.Time
	Warnf     func(format string, args ...any)
}

func (e *Engine) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) warnf(format string, args ...any) {
	if e.Warnf != nil {
		e.Warnf(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}

// Resolve executes the state machine and always returns a Result; the
// only failures it surfaces as nonzero statuses are validator
// rejection (3), exhaustion (1), and a missing prompt (2). Cache, log,
// and archive I/O problems degrade with a warning instead of failing
// the resolution.
func (e *Engine) Resolve(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{
			Returncode: StatusUsageError,
			Message:    "[ERR] Prompt is required.",
		}
	}

	contextFiles, warnings := promptkit.LoadContextFiles(req.Root, req.Files)
	for _, w := range warnings {
		e.warnf("%s", w)
	}
	prompt := promptkit.Assemble(req.Prompt, req.Preamble, contextFiles, req.StdinText, req.StdinLabel)

	if req.PlanOnly {
		return Result{
			Returncode: StatusOK,
			Message:    "[OK] Prompt ready (plan only).",
			Source:     SourcePlan,
			DiffText:   prompt,
		}
	}

	if req.CacheDir != "" && req.CacheKey != "" {
		cache := &store.Cache{Dir: req.CacheDir, MaxEntries: req.CacheMaxEntries}
		if diff, ok := cache.Lookup(req.CacheKey); ok {
			return Result{
				Returncode: StatusOK,
				Message:    "[OK] [cached] Reusing stored diff.",
				Source:     SourceCache,
				DiffText:   diff,
			}
		}
	}

	var attempts []runlog.Attempt
	record := func(gen backend.Generator, model string, ok bool, message string) {
		attempts = append(attempts, runlog.Attempt{
			Backend: gen.Name(),
			Model:   model,
			OK:      ok,
			Message: message,
		})
	}

	// Fast backend loop.
	source := SourceOllama
	var diff string
	for attempt := 1; attempt <= req.MaxOllamaAttempts && diff == ""; attempt++ {
		seed := fmt.Sprintf("%s:%s:%d", req.CacheKey, e.Fast.Name(), attempt)
		e.sleep(req.OllamaBackoff.DelayBeforeAttempt(attempt, seed))
		if ctx.Err() != nil {
			record(e.Fast, req.OllamaModel, false, "canceled: "+ctx.Err().Error())
			break
		}
		ok, text, message := e.Fast.Attempt(ctx, req.OllamaModel, prompt, req.Files)
		record(e.Fast, req.OllamaModel, ok, message)
		if ok {
			diff = e.normalize(text, req)
		}
	}

	// Escalate through the weighted fallback sequence.
	if diff == "" {
		models := ExpandWeightedModels(req.CodexModels)
		if len(models) > 0 {
			source = SourceCodex
		}
		for i, model := range models {
			seed := fmt.Sprintf("%s:%s:%d", req.CacheKey, e.Fallback.Name(), i+1)
			e.sleep(req.CodexBackoff.DelayBeforeAttempt(i+1, seed))
			if ctx.Err() != nil {
				record(e.Fallback, model, false, "canceled: "+ctx.Err().Error())
				break
			}
			ok, text, message := e.Fallback.Attempt(ctx, model, prompt, req.Files)
			record(e.Fallback, model, ok, message)
			if ok {
				if diff = e.normalize(text, req); diff != "" {
					break
				}
			}
		}
	}

	if diff == "" {
		return e.finish(req, Result{
			Returncode: StatusExhausted,
			Message:    "[ERR] No usable diff produced; all backends exhausted.",
			Source:     source,
			Attempts:   attempts,
		})
	}

	// Validate the first shape-valid candidate.
	if e.Validator != nil {
		res := e.Validator.Run(ctx, diff)
		switch res.Verdict {
		case validate.VerdictAccepted:
			diff = res.Text
		default:
			reason := res.Reason
			if reason == "" {
				reason = "validator rejected the diff"
			}
			return e.finish(req, Result{
				Returncode: StatusRejected,
				Message:    "[ERR] " + reason,
				Source:     SourceValidator,
				Attempts:   attempts,
			})
		}
	}

	e.persist(req, diff)
	return e.finish(req, Result{
		Returncode: StatusOK,
		Message:    fmt.Sprintf("[OK] Diff ready (source %s).", source),
		Source:     source,
		DiffText:   diff,
		Attempts:   attempts,
	})
}

// normalize strips fences and checks diff shape; when the raw text is
// a bare fragment and exactly one context file is in play, a one-line
// coercion is attempted. Empty return means shape failure.
func (e *Engine) normalize(text string, req Request) string {
	stripped := diffshape.StripCodeFences(text)
	if stripped == "" {
		return ""
	}
	if diffshape.LooksLikeUnifiedDiff(stripped) {
		return stripped
	}
	if len(req.Files) == 1 {
		target := req.Files[0]
		full := target
		if !filepath.IsAbs(full) {
			full = filepath.Join(req.Root, target)
		}
		if coerced, ok := diffshape.CoerceUnified(stripped, filepath.Base(target), full); ok {
			return coerced
		}
	}
	return ""
}

// persist writes last.diff, the archive entry, and the cache entry.
// Each failure warns and keeps going.
func (e *Engine) persist(req Request, diff string) {
	if req.WorkspaceDir != "" {
		if err := os.MkdirAll(req.WorkspaceDir, 0o755); err != nil {
			e.warnf("unable to create workspace dir: %v", err)
		} else {
			lastPath := filepath.Join(req.WorkspaceDir, "last.diff")
			if err := os.WriteFile(lastPath, []byte(diff), 0o644); err != nil {
				e.warnf("unable to write %s: %v", lastPath, err)
			}
			archive := &store.Archive{
				Dir:        filepath.Join(req.WorkspaceDir, "diffs"),
				MaxEntries: req.ArchiveMaxEntries,
				Now:        e.Now,
			}
			if _, err := archive.Save(diff); err != nil {
				e.warnf("unable to archive diff: %v", err)
			}
		}
	}
	if req.CacheDir != "" && req.CacheKey != "" {
		cache := &store.Cache{Dir: req.CacheDir, MaxEntries: req.CacheMaxEntries}
		if err := cache.Store(req.CacheKey, diff, req.CacheMetadata); err != nil {
			e.warnf("unable to cache diff: %v", err)
		}
	}
}

// finish writes the resolution log record and returns the result
// unchanged. Log failures degrade to a warning.
func (e *Engine) finish(req Request, res Result) Result {
	if req.LogFile == "" {
		return res
	}
	rec := runlog.Record{
		Prompt:     req.Prompt,
		Source:     res.Source,
		Returncode: res.Returncode,
		Attempts:   res.Attempts,
	}
	rec.Stamp(e.now())
	if err := runlog.Append(req.LogFile, rec); err != nil {
		e.warnf("unable to write log record: %v", err)
	}
	return res
}
