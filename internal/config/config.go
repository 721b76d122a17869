// Package config loads the TOML config file and the saved session, and
// merges them with command-line flags into the effective options for a
// resolution. Precedence is flag, then session, then config file, then
// built-in default.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultMaxOllamaAttempts = 5
	DefaultOllamaModel       = "phi3:mini"
	DefaultCodexModels       = "api:ollama:phi3:mini,api:ollama:codellama:7b-instruct"
	DefaultStdinLabel        = "stdin.txt"
)

// EnvConfigPath overrides the config file location when no --config
// flag is given.
const EnvConfigPath = "HYBRID_CONFIG"

// RoutingRule overrides model selection when any context file matches
// the pattern (full relative path or basename).
type RoutingRule struct {
	Pattern           string `toml:"pattern"`
	OllamaModel       string `toml:"ollama_model"`
	CodexModels       string `toml:"codex_models"`
	MaxOllamaAttempts *int   `toml:"max_ollama_attempts"`
}

// File is the on-disk TOML config. Pointer fields distinguish "absent"
// from a zero value so the merge can fall through to defaults.
type File struct {
	MaxOllamaAttempts       *int          `toml:"max_ollama_attempts"`
	OllamaModel             *string       `toml:"ollama_model"`
	CodexModels             *string       `toml:"codex_models"`
	OllamaBackoffInitial    *float64      `toml:"ollama_backoff_initial"`
	OllamaBackoffMultiplier *float64      `toml:"ollama_backoff_multiplier"`
	OllamaBackoffMax        *float64      `toml:"ollama_backoff_max"`
	CodexBackoffInitial     *float64      `toml:"codex_backoff_initial"`
	CodexBackoffMultiplier  *float64      `toml:"codex_backoff_multiplier"`
	CodexBackoffMax         *float64      `toml:"codex_backoff_max"`
	StdinLabel              *string       `toml:"stdin_label"`
	ContextGlobs            []string      `toml:"context_globs"`
	InferRelatedFiles       *bool         `toml:"infer_related_files"`
	PreviewContext          *int          `toml:"preview_context"`
	Clipboard               *bool         `toml:"clipboard"`
	ApplyMode               *string       `toml:"apply_mode"`
	ApplyByDefault          bool          `toml:"apply_by_default"`
	ApplyPreview            *bool         `toml:"apply_preview"`
	LogFile                 *string       `toml:"log_file"`
	ApplyBranch             *string       `toml:"apply_branch"`
	CommitMessage           *string       `toml:"commit_message"`
	CacheResponses          *bool         `toml:"cache_responses"`
	CacheDir                *string       `toml:"cache_dir"`
	CacheMaxEntries         *int          `toml:"cache_max_entries"`
	ArchiveMaxEntries       *int          `toml:"archive_max_entries"`
	PromptTemplate          *string       `toml:"prompt_template"`
	PromptPreamble          *string       `toml:"prompt_preamble"`
	PreambleFile            *string       `toml:"preamble_file"`
	PostHooks               []string      `toml:"post_hooks"`
	GitStatus               *bool         `toml:"git_status"`
	StashUnstaged           *bool         `toml:"stash_unstaged"`
	JSONOutput              bool          `toml:"json_output"`
	RoutingRules            []RoutingRule `toml:"routing_rules"`

	// Path records where the file was loaded from; empty when no
	// config file exists.
	Path string `toml:"-"`
}

// LoadFile reads the config. The explicit path wins, then EnvConfigPath,
// then config/hybrid.toml under root. A missing file yields a zero File;
// a file that exists but does not parse is an error.
func LoadFile(root, explicit string) (File, error) {
	candidate := explicit
	if candidate == "" {
		candidate = os.Getenv(EnvConfigPath)
	}
	if candidate == "" {
		candidate = filepath.Join("config", "hybrid.toml")
	}
	candidate = ResolvePath(root, candidate)

	var cfg File
	if _, err := os.Stat(candidate); err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, err
	}
	if _, err := toml.DecodeFile(candidate, &cfg); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", candidate, err)
	}
	cfg.Path = candidate
	return cfg, nil
}

// ResolvePath makes value absolute relative to root. Empty stays empty.
func ResolvePath(root, value string) string {
	if value == "" {
		return ""
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(root, value)
}

// Flags carries the command-line values. Pointer fields are nil when
// the flag was not given.
type Flags struct {
	MaxOllamaAttempts       *int
	OllamaModel             *string
	CodexModels             *string
	OllamaBackoffInitial    *float64
	OllamaBackoffMultiplier *float64
	OllamaBackoffMax        *float64
	CodexBackoffInitial     *float64
	CodexBackoffMultiplier  *float64
	CodexBackoffMax         *float64
	StdinLabel              *string
	ContextGlobs            []string
	InferRelated            *bool
	PreviewContext          *int
	Clipboard               *bool
	ApplyMode               *string
	Apply                   bool
	ApplyPreview            *bool
	LogFile                 *string
	ApplyBranch             *string
	CommitMessage           *string
	CacheResponses          *bool
	CacheDir                *string
	CacheMaxEntries         *int
	ArchiveMaxEntries       *int
	PromptTemplate          *string
	PreambleFile            *string
	PostHooks               []string
	GitStatus               *bool
	StashUnstaged           *bool
	JSONOutput              bool
}

// Backoff is a retry schedule in wall-clock terms.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Options are the fully merged settings a resolution runs with. Paths
// are absolute.
type Options struct {
	MaxOllamaAttempts int
	OllamaModel       string
	CodexModels       string
	OllamaBackoff     Backoff
	CodexBackoff      Backoff
	StdinLabel        string
	ContextGlobs      []string
	InferRelated      bool
	PreviewContext    int
	Clipboard         bool
	ApplyMode         string // never, ask, always
	ApplyPreview      bool
	LogFile           string
	ApplyBranch       string
	CommitMessage     string
	CacheResponses    bool
	CacheDir          string
	CacheMaxEntries   int // 0 = unlimited
	ArchiveMaxEntries int // 0 = unlimited
	PromptTemplate    string
	PostHooks         []string
	GitStatus         bool
	StashUnstaged     bool
	JSONOutput        bool
}

func pickInt(flag *int, session *int, cfg *int, def int) int {
	switch {
	case flag != nil:
		return *flag
	case session != nil:
		return *session
	case cfg != nil:
		return *cfg
	}
	return def
}

func pickString(flag *string, session *string, cfg *string, def string) string {
	switch {
	case flag != nil:
		return *flag
	case session != nil:
		return *session
	case cfg != nil:
		return *cfg
	}
	return def
}

func pickBool(flag *bool, session *bool, cfg *bool, def bool) bool {
	switch {
	case flag != nil:
		return *flag
	case session != nil:
		return *session
	case cfg != nil:
		return *cfg
	}
	return def
}

func pickFloat(flag *float64, session *float64, cfg *float64, def float64) float64 {
	switch {
	case flag != nil:
		return *flag
	case session != nil:
		return *session
	case cfg != nil:
		return *cfg
	}
	return def
}

func seconds(v float64) time.Duration {
	if v < 0 {
		v = 0
	}
	return time.Duration(v * float64(time.Second))
}

func backoff(initial, mult, max float64) Backoff {
	if mult < 1 {
		mult = 1
	}
	return Backoff{Initial: seconds(initial), Multiplier: mult, Max: seconds(max)}
}

// Effective merges flags, session, and config into concrete options.
func Effective(root string, flags Flags, sess Session, cfg File) Options {
	opts := Options{
		MaxOllamaAttempts: pickInt(flags.MaxOllamaAttempts, sess.MaxOllamaAttempts, cfg.MaxOllamaAttempts, DefaultMaxOllamaAttempts),
		OllamaModel:       pickString(flags.OllamaModel, sess.OllamaModel, cfg.OllamaModel, DefaultOllamaModel),
		CodexModels:       pickString(flags.CodexModels, sess.CodexModels, cfg.CodexModels, DefaultCodexModels),
		OllamaBackoff: backoff(
			pickFloat(flags.OllamaBackoffInitial, sess.OllamaBackoffInitial, cfg.OllamaBackoffInitial, 0.25),
			pickFloat(flags.OllamaBackoffMultiplier, sess.OllamaBackoffMultiplier, cfg.OllamaBackoffMultiplier, 2.0),
			pickFloat(flags.OllamaBackoffMax, sess.OllamaBackoffMax, cfg.OllamaBackoffMax, 5.0),
		),
		CodexBackoff: backoff(
			pickFloat(flags.CodexBackoffInitial, sess.CodexBackoffInitial, cfg.CodexBackoffInitial, 0.5),
			pickFloat(flags.CodexBackoffMultiplier, sess.CodexBackoffMultiplier, cfg.CodexBackoffMultiplier, 2.0),
			pickFloat(flags.CodexBackoffMax, sess.CodexBackoffMax, cfg.CodexBackoffMax, 5.0),
		),
		StdinLabel:     pickString(flags.StdinLabel, sess.StdinLabel, cfg.StdinLabel, DefaultStdinLabel),
		InferRelated:   pickBool(flags.InferRelated, sess.InferRelated, cfg.InferRelatedFiles, true),
		PreviewContext: pickInt(flags.PreviewContext, sess.PreviewContext, cfg.PreviewContext, 0),
		Clipboard:      pickBool(flags.Clipboard, sess.Clipboard, cfg.Clipboard, false),
		ApplyPreview:   pickBool(flags.ApplyPreview, sess.ApplyPreview, cfg.ApplyPreview, false),
		ApplyBranch:    pickString(flags.ApplyBranch, sess.ApplyBranch, cfg.ApplyBranch, ""),
		CommitMessage:  pickString(flags.CommitMessage, sess.CommitMessage, cfg.CommitMessage, ""),
		CacheResponses: pickBool(flags.CacheResponses, sess.CacheResponses, cfg.CacheResponses, true),
		GitStatus:      pickBool(flags.GitStatus, sess.GitStatus, cfg.GitStatus, false),
		StashUnstaged:  pickBool(flags.StashUnstaged, sess.StashUnstaged, cfg.StashUnstaged, false),
		JSONOutput:     flags.JSONOutput || cfg.JSONOutput,
	}
	if opts.MaxOllamaAttempts < 0 {
		opts.MaxOllamaAttempts = 0
	}
	if opts.PreviewContext < 0 {
		opts.PreviewContext = 0
	}

	mode := pickString(flags.ApplyMode, sess.ApplyMode, cfg.ApplyMode, "")
	if mode == "" && (flags.Apply || cfg.ApplyByDefault) {
		mode = "always"
	}
	switch mode {
	case "never", "ask", "always":
	default:
		mode = "never"
	}
	opts.ApplyMode = mode

	// Glob patterns accumulate: config first, then session unless the
	// flag supplies its own, then the flag's patterns.
	opts.ContextGlobs = append(opts.ContextGlobs, cfg.ContextGlobs...)
	if len(flags.ContextGlobs) == 0 {
		opts.ContextGlobs = append(opts.ContextGlobs, sess.ContextGlobs...)
	}
	opts.ContextGlobs = append(opts.ContextGlobs, flags.ContextGlobs...)

	// Post hooks accumulate the same way.
	opts.PostHooks = append(opts.PostHooks, cfg.PostHooks...)
	if len(flags.PostHooks) == 0 {
		opts.PostHooks = append(opts.PostHooks, sess.PostHooks...)
	}
	opts.PostHooks = append(opts.PostHooks, flags.PostHooks...)

	opts.LogFile = ResolvePath(root, pickString(flags.LogFile, sess.LogFile, cfg.LogFile, ""))
	opts.PromptTemplate = ResolvePath(root, pickString(flags.PromptTemplate, sess.PromptTemplate, cfg.PromptTemplate, ""))

	cacheDir := pickString(flags.CacheDir, sess.CacheDir, cfg.CacheDir, "")
	if cacheDir == "" {
		cacheDir = filepath.Join("workspace", "cache")
	}
	opts.CacheDir = ResolvePath(root, cacheDir)

	if n := pickInt(flags.CacheMaxEntries, sess.CacheMaxEntries, cfg.CacheMaxEntries, 0); n > 0 {
		opts.CacheMaxEntries = n
	}
	if n := pickInt(flags.ArchiveMaxEntries, sess.ArchiveMaxEntries, cfg.ArchiveMaxEntries, 0); n > 0 {
		opts.ArchiveMaxEntries = n
	}
	return opts
}

// ApplyRouting rewrites model selection in place when any context file
// matches a rule's pattern, checked against both the relative path and
// the basename. Rules apply in order; later rules win.
func ApplyRouting(opts *Options, files []string, rules []RoutingRule) {
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		matched := false
		for _, file := range files {
			if ok, _ := path.Match(rule.Pattern, filepath.ToSlash(file)); ok {
				matched = true
				break
			}
			if ok, _ := path.Match(rule.Pattern, filepath.Base(file)); ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if rule.OllamaModel != "" {
			opts.OllamaModel = rule.OllamaModel
		}
		if rule.CodexModels != "" {
			opts.CodexModels = rule.CodexModels
		}
		if rule.MaxOllamaAttempts != nil && *rule.MaxOllamaAttempts >= 0 {
			opts.MaxOllamaAttempts = *rule.MaxOllamaAttempts
		}
	}
}
