package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danshapiro/hybrid/internal/backend"
	"github.com/danshapiro/hybrid/internal/clipboard"
	"github.com/danshapiro/hybrid/internal/config"
	"github.com/danshapiro/hybrid/internal/diffshape"
	"github.com/danshapiro/hybrid/internal/gitutil"
	"github.com/danshapiro/hybrid/internal/promptkit"
	"github.com/danshapiro/hybrid/internal/resolve"
	"github.com/danshapiro/hybrid/internal/store"
	"github.com/danshapiro/hybrid/internal/validate"
)

func newSolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Try Ollama for a unified diff, then escalate to the codex CLI if needed",
		RunE:  runSolve,
	}
	f := cmd.Flags()
	f.String("prompt", "", "Instruction that asks for ONLY a unified diff")
	f.StringArray("file", nil, "File(s) to include in context (repeatable)")
	f.StringArray("context-glob", nil, "Include context files matching a glob pattern (repeatable)")
	f.Bool("context-plan", false, "Show the prompt/context without contacting models")
	f.Bool("stdin", false, "Read additional context from STDIN")
	f.String("stdin-label", "", "Virtual filename used for STDIN content")
	f.Int("max-ollama-attempts", 0, "Ollama attempts (default 5 or config)")
	f.String("ollama-model", "", "Ollama model to query")
	f.String("codex-models", "", "Comma-separated codex CLI models (model|weight syntax supported)")
	f.Float64("ollama-backoff-initial", 0, "Initial seconds before retrying Ollama (default 0.25)")
	f.Float64("ollama-backoff-multiplier", 0, "Multiplier for Ollama retry backoff (default 2.0)")
	f.Float64("ollama-backoff-max", 0, "Maximum seconds between Ollama retries (default 5.0)")
	f.Float64("codex-backoff-initial", 0, "Initial seconds before escalating to the codex CLI (default 0.5)")
	f.Float64("codex-backoff-multiplier", 0, "Multiplier for codex fallback delay (default 2.0)")
	f.Float64("codex-backoff-max", 0, "Maximum seconds before codex fallback (default 5.0)")
	f.Bool("infer-related", false, "Enable auto-related-file discovery")
	f.Bool("no-infer-related", false, "Disable auto-related-file discovery")
	f.Int("preview-context", 0, "Show N context lines from the diff")
	f.Bool("diff-preview", false, "Print a summary and context preview")
	f.Bool("clipboard", false, "Copy the resulting diff to the clipboard")
	f.Bool("no-clipboard", false, "Do not copy the diff to the clipboard")
	f.Bool("apply", false, "Apply the resulting diff")
	f.String("apply-mode", "", "Control whether to apply the diff: never, ask, or always")
	f.Bool("apply-preview", false, "Validate with git apply --check without modifying the tree")
	f.String("apply-branch", "", "Checkout/create the given branch before applying the diff")
	f.String("commit", "", "Commit message to use after applying the diff")
	f.String("prompt-template", "", "Template file used to render the final prompt")
	f.String("preamble-file", "", "File with extra instructions prepended to every prompt")
	f.StringArray("post-hook", nil, "Shell command to run after a successful apply (repeatable)")
	f.Bool("cache-responses", false, "Enable caching of model responses")
	f.Bool("no-cache-responses", false, "Disable caching of model responses")
	f.String("cache-dir", "", "Directory to store cached responses (default workspace/cache)")
	f.Int("cache-max-entries", 0, "Maximum cached diff entries to keep (default unlimited)")
	f.Int("archive-max-entries", 0, "Maximum archived diffs to retain (default unlimited)")
	f.Bool("git-status", false, "Show git status before attempting to apply")
	f.Bool("no-git-status", false, "Do not show git status before applying")
	f.Bool("stash-unstaged", false, "Stash unstaged changes before applying and restore afterwards")
	f.Bool("no-stash-unstaged", false, "Skip automatic stashing")
	f.String("log-file", "", "Custom run log path")
	f.Bool("json", false, "Emit structured JSON output instead of plain text")
	f.Bool("repeat", false, "Reuse the previous session's configuration")
	return cmd
}

func stringFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func intFlag(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func floatFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

// boolPairFlag folds an --x/--no-x pair into a tri-state: nil when
// neither was given, the --no form winning when both are.
func boolPairFlag(cmd *cobra.Command, on, off string) *bool {
	if cmd.Flags().Changed(off) {
		v := false
		return &v
	}
	if cmd.Flags().Changed(on) {
		v := true
		return &v
	}
	return nil
}

func solveFlags(cmd *cobra.Command) config.Flags {
	apply, _ := cmd.Flags().GetBool("apply")
	jsonOut, _ := cmd.Flags().GetBool("json")
	globs, _ := cmd.Flags().GetStringArray("context-glob")
	hooks, _ := cmd.Flags().GetStringArray("post-hook")
	return config.Flags{
		MaxOllamaAttempts:       intFlag(cmd, "max-ollama-attempts"),
		OllamaModel:             stringFlag(cmd, "ollama-model"),
		CodexModels:             stringFlag(cmd, "codex-models"),
		OllamaBackoffInitial:    floatFlag(cmd, "ollama-backoff-initial"),
		OllamaBackoffMultiplier: floatFlag(cmd, "ollama-backoff-multiplier"),
		OllamaBackoffMax:        floatFlag(cmd, "ollama-backoff-max"),
		CodexBackoffInitial:     floatFlag(cmd, "codex-backoff-initial"),
		CodexBackoffMultiplier:  floatFlag(cmd, "codex-backoff-multiplier"),
		CodexBackoffMax:         floatFlag(cmd, "codex-backoff-max"),
		StdinLabel:              stringFlag(cmd, "stdin-label"),
		ContextGlobs:            globs,
		InferRelated:            boolPairFlag(cmd, "infer-related", "no-infer-related"),
		PreviewContext:          intFlag(cmd, "preview-context"),
		Clipboard:               boolPairFlag(cmd, "clipboard", "no-clipboard"),
		ApplyMode:               stringFlag(cmd, "apply-mode"),
		Apply:                   apply,
		ApplyPreview:            boolFlagPtr(cmd, "apply-preview"),
		LogFile:                 stringFlag(cmd, "log-file"),
		ApplyBranch:             stringFlag(cmd, "apply-branch"),
		CommitMessage:           stringFlag(cmd, "commit"),
		CacheResponses:          boolPairFlag(cmd, "cache-responses", "no-cache-responses"),
		CacheDir:                stringFlag(cmd, "cache-dir"),
		CacheMaxEntries:         intFlag(cmd, "cache-max-entries"),
		ArchiveMaxEntries:       intFlag(cmd, "archive-max-entries"),
		PromptTemplate:          stringFlag(cmd, "prompt-template"),
		PreambleFile:            stringFlag(cmd, "preamble-file"),
		PostHooks:               hooks,
		GitStatus:               boolPairFlag(cmd, "git-status", "no-git-status"),
		StashUnstaged:           boolPairFlag(cmd, "stash-unstaged", "no-stash-unstaged"),
		JSONOutput:              jsonOut,
	}
}

func boolFlagPtr(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}

func backoffPolicy(b config.Backoff) resolve.BackoffPolicy {
	return resolve.BackoffPolicy{Initial: b.Initial, Multiplier: b.Multiplier, Max: b.Max}
}

func runSolve(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	repeat, _ := cmd.Flags().GetBool("repeat")
	var sess config.Session
	if repeat {
		sess = config.LoadSession(root)
	}
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(root, configPath)
	if err != nil {
		warn("%v", err)
		cfg = config.File{}
	}
	flags := solveFlags(cmd)
	opts := config.Effective(root, flags, sess, cfg)

	prompt, _ := cmd.Flags().GetString("prompt")
	if prompt == "" {
		prompt = sess.Prompt
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "[ERR] Prompt is required (provide --prompt or use --repeat with a saved session).")
		return errExit(2)
	}

	// Context files: explicit flags (or the repeated session's list),
	// then glob expansion, then related-test inference.
	files, _ := cmd.Flags().GetStringArray("file")
	if len(files) == 0 && repeat {
		files = sess.Files
	}
	files = promptkit.Dedup(files)
	if len(opts.ContextGlobs) > 0 {
		files = promptkit.Dedup(append(files, promptkit.ExpandContextGlobs(root, opts.ContextGlobs)...))
	}
	if opts.InferRelated {
		files = promptkit.Dedup(append(files, promptkit.InferRelatedFiles(root, files)...))
	}

	config.ApplyRouting(&opts, files, cfg.RoutingRules)

	stdinText := ""
	if useStdin, _ := cmd.Flags().GetBool("stdin"); useStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			warn("unable to read STDIN: %v", err)
		}
		stdinText = string(data)
		if stdinText == "" {
			warn("--stdin was provided but no data was read from STDIN.")
		}
	}

	preamblePath := ""
	switch {
	case flags.PreambleFile != nil:
		preamblePath = config.ResolvePath(root, *flags.PreambleFile)
	case sess.PreambleFile != nil:
		preamblePath = config.ResolvePath(root, *sess.PreambleFile)
	case cfg.PreambleFile != nil:
		preamblePath = config.ResolvePath(root, *cfg.PreambleFile)
	}
	cfgPreamble := ""
	if cfg.PromptPreamble != nil {
		cfgPreamble = *cfg.PromptPreamble
	}
	preamble, preambleWarning := promptkit.MergePreamble(root, cfgPreamble, preamblePath)
	if preambleWarning != "" {
		warn("%s", preambleWarning)
	}

	finalPrompt := prompt
	if opts.PromptTemplate != "" {
		data, err := os.ReadFile(opts.PromptTemplate)
		if err != nil {
			warn("unable to read prompt template %s: %v", opts.PromptTemplate, err)
		} else {
			finalPrompt = promptkit.RenderTemplate(string(data), map[string]string{
				"prompt":      prompt,
				"files":       strings.Join(files, "\n"),
				"stdin_label": opts.StdinLabel,
				"config_path": cfg.Path,
			})
		}
	}

	cacheKey := ""
	if opts.CacheResponses {
		cacheKey = store.Fingerprint(
			finalPrompt, preamble, files, stdinText,
			opts.StdinLabel, opts.OllamaModel, opts.CodexModels, opts.MaxOllamaAttempts,
		)
	}

	engine := &resolve.Engine{
		Fast:     backend.NewOllamaClient("", nil),
		Fallback: backend.NewCodexCLI(""),
	}
	if path := validate.Discover(root); path != "" {
		engine.Validator = &validate.Runner{Path: path}
	}

	req := resolve.Request{
		Prompt:            finalPrompt,
		Root:              root,
		Files:             files,
		Preamble:          preamble,
		StdinText:         stdinText,
		StdinLabel:        opts.StdinLabel,
		OllamaModel:       opts.OllamaModel,
		CodexModels:       opts.CodexModels,
		MaxOllamaAttempts: opts.MaxOllamaAttempts,
		OllamaBackoff:     backoffPolicy(opts.OllamaBackoff),
		CodexBackoff:      backoffPolicy(opts.CodexBackoff),
		WorkspaceDir:      filepath.Join(root, "workspace"),
		LogFile:           opts.LogFile,
		ArchiveMaxEntries: opts.ArchiveMaxEntries,
	}
	if opts.CacheResponses {
		req.CacheDir = opts.CacheDir
		req.CacheKey = cacheKey
		req.CacheMaxEntries = opts.CacheMaxEntries
		req.CacheMetadata = store.Metadata{
			Prompt:            prompt,
			ContextFiles:      files,
			StdinLabel:        opts.StdinLabel,
			OllamaModel:       opts.OllamaModel,
			CodexModels:       opts.CodexModels,
			MaxOllamaAttempts: opts.MaxOllamaAttempts,
			PromptTemplate:    opts.PromptTemplate,
		}
	}

	if planOnly, _ := cmd.Flags().GetBool("context-plan"); planOnly {
		req.PlanOnly = true
		req.LogFile = ""
		return printPlan(engine, req, files, opts, stdinText != "")
	}

	res := engine.Resolve(context.Background(), req)
	saveSolveSession(root, prompt, files, flags, sess, cfg, opts)

	payload := map[string]any{
		"returncode": res.Returncode,
		"message":    res.Message,
		"source":     res.Source,
		"diff_text":  res.DiffText,
		"applied":    false,
		"files":      files,
	}

	if res.Returncode != 0 {
		if opts.JSONOutput {
			printJSON(payload)
		} else {
			fmt.Fprintln(os.Stderr, res.Message)
		}
		return errExit(res.Returncode)
	}

	diffText := res.DiffText
	summary := diffshape.Summarize(diffText)
	payload["summary"] = summary
	touched := diffshape.TouchedFiles(diffText)
	payload["touched_files"] = touched

	diffPreview, _ := cmd.Flags().GetBool("diff-preview")
	if diffPreview && !opts.JSONOutput {
		fmt.Printf("[SUMMARY] %d file(s) touched, +%d/-%d\n", len(summary.Files), summary.Additions, summary.Deletions)
		printDiffPreview(diffText, opts.PreviewContext)
	}
	if opts.Clipboard && !opts.JSONOutput {
		if clipboard.Copy(diffText) {
			fmt.Println("[OK] Diff copied to clipboard.")
		} else {
			fmt.Fprintln(os.Stderr, "[WARN] Unable to copy diff to clipboard.")
		}
	}
	if !opts.JSONOutput {
		if strings.HasSuffix(diffText, "\n") {
			fmt.Print(diffText)
		} else {
			fmt.Println(diffText)
		}
		if res.Message != "" {
			fmt.Fprintln(os.Stderr, res.Message)
		}
	}
	if opts.GitStatus && !opts.JSONOutput {
		fmt.Println("[GIT STATUS]")
		fmt.Println(gitutil.StatusShort(root))
	}

	applyRC := runApplyFlow(root, diffText, touched, opts, payload)

	if opts.JSONOutput {
		printJSON(payload)
	}
	if applyRC != 0 {
		return errExit(applyRC)
	}
	return nil
}

// runApplyFlow handles the optional apply stage after a successful
// resolution: stash, branch, git apply, commit, post hooks, stash pop.
// Returns the exit code for the apply stage (0 when skipped).
func runApplyFlow(root, diffText string, touched []string, opts config.Options, payload map[string]any) int {
	if opts.ApplyMode == "never" {
		payload["apply_message"] = "[INFO] apply_mode=never; diff not applied."
		return 0
	}

	var messages []string
	confirmed := opts.ApplyMode == "always"
	if opts.ApplyMode == "ask" && !opts.JSONOutput {
		fmt.Print("Apply diff? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		confirmed = answer == "y" || answer == "yes"
		if !confirmed {
			messages = append(messages, "[INFO] Diff not applied.")
		}
	}
	if !confirmed {
		payload["apply_message"] = strings.Join(messages, "; ")
		flushApplyMessages(messages, opts)
		return 0
	}

	rc := 0
	stashed := false
	if opts.StashUnstaged {
		ok, msg, didStash := gitutil.StashPush(root)
		messages = append(messages, msg)
		stashed = didStash
		if !ok {
			rc = 1
		}
	}
	if rc == 0 && opts.ApplyBranch != "" {
		ok, msg := gitutil.EnsureBranch(root, opts.ApplyBranch)
		if msg != "" {
			messages = append(messages, msg)
		}
		if !ok {
			rc = 1
		}
	}
	if rc == 0 {
		var msg string
		rc, msg = gitutil.ApplyDiff(root, diffText, opts.ApplyPreview)
		messages = append(messages, msg)
		if rc == 0 && opts.CommitMessage != "" {
			ok, commitMsg := gitutil.Commit(root, opts.CommitMessage, touched)
			messages = append(messages, commitMsg)
			if !ok {
				rc = 1
			}
		}
	}
	if rc == 0 && len(opts.PostHooks) > 0 {
		messages = append(messages, runPostHooks(root, opts.PostHooks)...)
	}
	if stashed {
		ok, msg := gitutil.StashPop(root)
		messages = append(messages, msg)
		if !ok && rc == 0 {
			rc = 1
		}
	}

	payload["applied"] = rc == 0
	payload["apply_message"] = strings.Join(messages, "; ")
	flushApplyMessages(messages, opts)
	return rc
}

func flushApplyMessages(messages []string, opts config.Options) {
	if opts.JSONOutput {
		return
	}
	for _, msg := range messages {
		if msg == "" {
			continue
		}
		if strings.HasPrefix(msg, "[ERR]") || strings.HasPrefix(msg, "[WARN]") {
			fmt.Fprintln(os.Stderr, msg)
		} else {
			fmt.Println(msg)
		}
	}
}

// runPostHooks executes each hook via "sh -c" in the repo root.
func runPostHooks(root string, hooks []string) []string {
	var messages []string
	for _, hook := range hooks {
		hook = strings.TrimSpace(hook)
		if hook == "" {
			continue
		}
		cmd := exec.Command("sh", "-c", hook)
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		detail := strings.TrimSpace(string(out))
		if err != nil {
			if detail == "" {
				detail = "no output"
			}
			messages = append(messages, fmt.Sprintf("[ERR] Post-hook failed (%s): %s", hook, detail))
		} else {
			if detail == "" {
				detail = "completed."
			}
			messages = append(messages, fmt.Sprintf("[OK] Post-hook (%s) %s", hook, detail))
		}
	}
	return messages
}

func printPlan(engine *resolve.Engine, req resolve.Request, files []string, opts config.Options, hasStdin bool) error {
	res := engine.Resolve(context.Background(), req)
	if opts.JSONOutput {
		payload := map[string]any{
			"returncode": res.Returncode,
			"message":    res.Message,
			"source":     res.Source,
			"prompt":     res.DiffText,
			"files":      files,
		}
		if hasStdin {
			payload["stdin_label"] = opts.StdinLabel
		}
		printJSON(payload)
	} else {
		fmt.Println(res.Message)
		fmt.Println("\n----- Prompt -----")
		fmt.Println(res.DiffText)
	}
	if res.Returncode != 0 {
		return errExit(res.Returncode)
	}
	return nil
}

func printDiffPreview(diffText string, contextLines int) {
	if contextLines <= 0 {
		return
	}
	lines := strings.Split(strings.TrimRight(diffText, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		fmt.Println("[PREVIEW] Diff is empty.")
		return
	}
	fmt.Printf("[PREVIEW] Showing first/last %d line(s):\n", contextLines)
	head := lines
	if len(head) > contextLines {
		head = head[:contextLines]
	}
	for _, line := range head {
		fmt.Println(line)
	}
	if len(lines) > contextLines*2 {
		fmt.Println("...")
	}
	if len(lines) > contextLines {
		for _, line := range lines[len(lines)-contextLines:] {
			fmt.Println(line)
		}
	}
}

func printJSON(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		warn("unable to encode JSON output: %v", err)
		return
	}
	fmt.Println(string(data))
}

// saveSolveSession persists the effective options so --repeat reruns
// the same resolution.
func saveSolveSession(root, prompt string, files []string, flags config.Flags, sess config.Session, cfg config.File, opts config.Options) {
	seconds := func(d config.Backoff) (init, mult, max float64) {
		return d.Initial.Seconds(), d.Multiplier, d.Max.Seconds()
	}
	oi, om, ox := seconds(opts.OllamaBackoff)
	ci, cm, cx := seconds(opts.CodexBackoff)

	next := config.Session{
		Prompt:                  prompt,
		Files:                   files,
		MaxOllamaAttempts:       &opts.MaxOllamaAttempts,
		OllamaModel:             &opts.OllamaModel,
		CodexModels:             &opts.CodexModels,
		OllamaBackoffInitial:    &oi,
		OllamaBackoffMultiplier: &om,
		OllamaBackoffMax:        &ox,
		CodexBackoffInitial:     &ci,
		CodexBackoffMultiplier:  &cm,
		CodexBackoffMax:         &cx,
		StdinLabel:              &opts.StdinLabel,
		ContextGlobs:            opts.ContextGlobs,
		InferRelated:            &opts.InferRelated,
		PreviewContext:          &opts.PreviewContext,
		Clipboard:               &opts.Clipboard,
		ApplyMode:               &opts.ApplyMode,
		ApplyPreview:            &opts.ApplyPreview,
		ApplyBranch:             &opts.ApplyBranch,
		CommitMessage:           &opts.CommitMessage,
		CacheResponses:          &opts.CacheResponses,
		CacheDir:                &opts.CacheDir,
		PostHooks:               opts.PostHooks,
		GitStatus:               &opts.GitStatus,
		StashUnstaged:           &opts.StashUnstaged,
	}
	if opts.LogFile != "" {
		next.LogFile = &opts.LogFile
	}
	if opts.PromptTemplate != "" {
		next.PromptTemplate = &opts.PromptTemplate
	}
	if opts.CacheMaxEntries > 0 {
		next.CacheMaxEntries = &opts.CacheMaxEntries
	}
	if opts.ArchiveMaxEntries > 0 {
		next.ArchiveMaxEntries = &opts.ArchiveMaxEntries
	}
	switch {
	case flags.PreambleFile != nil:
		next.PreambleFile = flags.PreambleFile
	case sess.PreambleFile != nil:
		next.PreambleFile = sess.PreambleFile
	case cfg.PreambleFile != nil:
		next.PreambleFile = cfg.PreambleFile
	}
	if err := config.SaveSession(root, next); err != nil {
		warn("unable to save session: %v", err)
	}
}
