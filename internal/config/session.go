package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const sessionFilename = "session.json"

// Session is the state saved after a successful solve so --repeat can
// rerun it. Pointer fields mirror File: nil means the option was never
// set. Stored at workspace/session.json.
type Session struct {
	Prompt                  string   `json:"prompt,omitempty"`
	Files                   []string `json:"files,omitempty"`
	MaxOllamaAttempts       *int     `json:"max_ollama_attempts,omitempty"`
	OllamaModel             *string  `json:"ollama_model,omitempty"`
	CodexModels             *string  `json:"codex_models,omitempty"`
	OllamaBackoffInitial    *float64 `json:"ollama_backoff_initial,omitempty"`
	OllamaBackoffMultiplier *float64 `json:"ollama_backoff_multiplier,omitempty"`
	OllamaBackoffMax        *float64 `json:"ollama_backoff_max,omitempty"`
	CodexBackoffInitial     *float64 `json:"codex_backoff_initial,omitempty"`
	CodexBackoffMultiplier  *float64 `json:"codex_backoff_multiplier,omitempty"`
	CodexBackoffMax         *float64 `json:"codex_backoff_max,omitempty"`
	StdinLabel              *string  `json:"stdin_label,omitempty"`
	ContextGlobs            []string `json:"context_globs,omitempty"`
	InferRelated            *bool    `json:"infer_related,omitempty"`
	PreviewContext          *int     `json:"preview_context,omitempty"`
	Clipboard               *bool    `json:"clipboard,omitempty"`
	ApplyMode               *string  `json:"apply_mode,omitempty"`
	ApplyPreview            *bool    `json:"apply_preview,omitempty"`
	LogFile                 *string  `json:"log_file,omitempty"`
	ApplyBranch             *string  `json:"apply_branch,omitempty"`
	CommitMessage           *string  `json:"commit_message,omitempty"`
	CacheResponses          *bool    `json:"cache_responses,omitempty"`
	CacheDir                *string  `json:"cache_dir,omitempty"`
	CacheMaxEntries         *int     `json:"cache_max_entries,omitempty"`
	ArchiveMaxEntries       *int     `json:"archive_max_entries,omitempty"`
	PromptTemplate          *string  `json:"prompt_template,omitempty"`
	PreambleFile            *string  `json:"preamble_file,omitempty"`
	PostHooks               []string `json:"post_hooks,omitempty"`
	GitStatus               *bool    `json:"git_status,omitempty"`
	StashUnstaged           *bool    `json:"stash_unstaged,omitempty"`
}

func sessionPath(root string) string {
	return filepath.Join(root, "workspace", sessionFilename)
}

// LoadSession reads workspace/session.json. A missing or corrupt file
// yields a zero session; a repeat against bad state just starts fresh.
func LoadSession(root string) Session {
	data, err := os.ReadFile(sessionPath(root))
	if err != nil {
		return Session{}
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}
	}
	return s
}

// SaveSession writes the session atomically: temp file, fsync, rename.
func SaveSession(root string, s Session) error {
	path := sessionPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "session.*.tmp")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
