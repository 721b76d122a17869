// Package promptkit turns a change request plus its context into the
// single prompt sent to a backend: preamble merging, template
// rendering, context glob expansion, related-test inference, and the
// final assembly.
package promptkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// EnvPreamble prepends ad-hoc instructions without touching config.
const EnvPreamble = "HYBRID_PREAMBLE"

// ContextFile is one file inlined into the prompt.
type ContextFile struct {
	Path    string
	Content string
}

// Assemble builds the backend prompt. The result always begins
// "You are" and is deterministic for identical inputs.
func Assemble(prompt, preamble string, files []ContextFile, stdinText, stdinLabel string) string {
	var b strings.Builder
	b.WriteString("You are a coding assistant. Respond with ONLY a unified diff (git apply format, a/ and b/ prefixes) that implements the request. No prose, no explanations, no code fences.\n")
	if preamble != "" {
		b.WriteString("\n")
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	b.WriteString("\nRequest:\n")
	b.WriteString(prompt)
	b.WriteString("\n")
	for _, f := range files {
		fmt.Fprintf(&b, "\n--- FILE: %s ---\n%s\n", f.Path, f.Content)
	}
	if stdinText != "" {
		label := stdinLabel
		if label == "" {
			label = "stdin.txt"
		}
		fmt.Fprintf(&b, "\n--- FILE: %s ---\n%s\n", label, stdinText)
	}
	return b.String()
}

// LoadContextFiles reads each path relative to root. Unreadable entries
// are skipped with a warning value in the second return so the caller
// can report them; a missing context file never aborts a resolution.
func LoadContextFiles(root string, paths []string) ([]ContextFile, []string) {
	var files []ContextFile
	var warnings []string
	for _, p := range paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(root, p)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unable to read context file %s: %v", p, err))
			continue
		}
		files = append(files, ContextFile{Path: p, Content: string(data)})
	}
	return files, warnings
}

// RenderTemplate substitutes {name} placeholders from vars. Unknown
// placeholders pass through untouched so a template can carry literal
// braces without escaping.
func RenderTemplate(template string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// MergePreamble joins the environment preamble, the config text, and
// the preamble file, in that order, separated by blank lines. filePath
// may be empty; when it is, config/preamble.txt under root is used if
// present. Returns the merged text and any file-read warning.
func MergePreamble(root, cfgText, filePath string) (string, string) {
	var pieces []string
	if env := strings.TrimSpace(os.Getenv(EnvPreamble)); env != "" {
		pieces = append(pieces, env)
	}
	if t := strings.TrimSpace(cfgText); t != "" {
		pieces = append(pieces, t)
	}
	warning := ""
	candidate := filePath
	if candidate == "" {
		fallback := filepath.Join(root, "config", "preamble.txt")
		if _, err := os.Stat(fallback); err == nil {
			candidate = fallback
		}
	}
	if candidate != "" {
		data, err := os.ReadFile(candidate)
		if err != nil {
			warning = fmt.Sprintf("unable to read preamble file %s: %v", candidate, err)
		} else if t := strings.TrimSpace(string(data)); t != "" {
			pieces = append(pieces, t)
		}
	}
	return strings.Join(pieces, "\n\n"), warning
}

// ExpandContextGlobs resolves doublestar patterns relative to root and
// returns matching regular files as slash-separated relative paths.
// Patterns that match nothing contribute nothing.
func ExpandContextGlobs(root string, patterns []string) []string {
	fsys := os.DirFS(root)
	var results []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(m)))
			if err != nil || info.IsDir() {
				continue
			}
			results = append(results, m)
		}
	}
	return results
}

// InferRelatedFiles finds test counterparts for the given context
// files: x_test.go for x.go (and the reverse), plus the Python naming
// conventions (test_x.py, x_test.py, tests/ variants). Only files that
// exist under root are returned, sorted.
func InferRelatedFiles(root string, files []string) []string {
	seen := map[string]bool{}
	for _, f := range files {
		seen[filepath.ToSlash(f)] = true
	}
	related := map[string]bool{}
	add := func(candidates []string) {
		for _, c := range candidates {
			c = filepath.ToSlash(c)
			if seen[c] || related[c] {
				continue
			}
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(c)))
			if err == nil && !info.IsDir() {
				related[c] = true
			}
		}
	}
	for _, entry := range files {
		rel := filepath.ToSlash(entry)
		dir := ""
		if d := filepath.ToSlash(filepath.Dir(rel)); d != "." {
			dir = d + "/"
		}
		base := filepath.Base(rel)
		switch {
		case strings.HasSuffix(base, "_test.go"):
			stem := strings.TrimSuffix(base, "_test.go")
			add([]string{dir + stem + ".go"})
		case strings.HasSuffix(base, ".go"):
			stem := strings.TrimSuffix(base, ".go")
			add([]string{dir + stem + "_test.go"})
		case strings.HasSuffix(base, ".py"):
			stem := strings.TrimSuffix(base, ".py")
			if strings.HasPrefix(stem, "test_") {
				add([]string{
					"tests/" + stem + ".py",
					"tests/" + strings.TrimPrefix(stem, "test_") + "_test.py",
				})
			} else {
				add([]string{
					dir + "test_" + stem + ".py",
					dir + stem + "_test.py",
					"tests/" + dir + "test_" + stem + ".py",
					"tests/test_" + stem + ".py",
					"tests/" + stem + "_test.py",
				})
			}
		}
	}
	out := make([]string, 0, len(related))
	for f := range related {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Dedup removes repeated paths, keeping first occurrence order.
func Dedup(files []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
