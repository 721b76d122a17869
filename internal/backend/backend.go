// Package backend defines the text-generation capability the resolution
// engine depends on, plus the two concrete clients: a local Ollama HTTP
// endpoint and the external codex-local CLI. Backends are opaque to the
// engine; anything other than (ok, non-empty text) is a failed attempt.
package backend

import (
	"context"
	"time"
)

// Generator is the single capability the orchestrator depends on. Attempt
// returns the raw model text; ok=false (or empty text) records a failed
// attempt and message carries the diagnostic.
type Generator interface {
	// Name identifies the backend in attempt records (e.g. "ollama").
	Name() string
	Attempt(ctx context.Context, model string, prompt string, files []string) (ok bool, text string, message string)
}

const defaultTimeout = 180 * time.Second
