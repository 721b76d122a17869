// Package diffshape classifies and normalizes raw model output into
// unified-diff form. It never interprets the code inside a diff; it only
// looks at the shape of the text.
package diffshape

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// StripCodeFences removes a leading and trailing triple-backtick fence
// (with or without a language tag such as "diff") from text. Inner
// content is left untouched. Stripping runs to a fixpoint, so the
// function is idempotent for all inputs.
func StripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	for {
		next := stripOneFence(s)
		if next == s {
			return s
		}
		s = next
	}
}

func stripOneFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	// Opening fence may carry a language tag; drop the whole line only if
	// the remainder of the line is a bare tag (no diff content after it).
	tag := strings.TrimPrefix(strings.TrimSpace(lines[0]), "```")
	if strings.ContainsAny(tag, " \t") {
		return s
	}
	body := lines[1:]
	if n := len(body); n > 0 && strings.TrimSpace(body[n-1]) == "```" {
		body = body[:n-1]
	}
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// LooksLikeUnifiedDiff reports whether text contains unified-diff markers
// (---/+++ headers plus an @@ hunk header) or context-diff markers
// (***/---/+++ triad with ****/---- hunk separators). The result is
// invariant under StripCodeFences.
func LooksLikeUnifiedDiff(text string) bool {
	s := StripCodeFences(text)
	var hasOld, hasNew, hasHunk, hasStar, hasStarSep, hasDashSep bool
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasPrefix(line, "--- ") {
			hasOld = true
		}
		if strings.HasPrefix(line, "+++ ") {
			hasNew = true
		}
		if strings.HasPrefix(line, "@@") {
			hasHunk = true
		}
		if strings.HasPrefix(line, "***") {
			hasStar = true
			if strings.HasSuffix(trimmed, "****") {
				hasStarSep = true
			}
		}
		if strings.HasPrefix(line, "----") || (strings.HasPrefix(line, "--- ") && strings.HasSuffix(trimmed, "----")) {
			hasDashSep = true
		}
	}
	if hasOld && hasNew && hasHunk {
		return true
	}
	// Context diffs: ***/---/+++ triad with **** or ---- hunk separators.
	return hasStar && hasOld && hasNew && (hasStarSep || hasDashSep)
}

// CoerceUnified turns a bare replacement line (the kind of fragment small
// models emit instead of diff syntax) into a minimal one-line-replace
// unified diff against targetPath, using targetBasename for the a/ b/
// headers. Returns ok=false when the target cannot be read or the
// fragment does not map to exactly one line. Best-effort only; this is
// not general patch reconstruction.
func CoerceUnified(fragment, targetBasename, targetPath string) (string, bool) {
	frag := strings.TrimSpace(StripCodeFences(fragment))
	if frag == "" || strings.Contains(frag, "\n") {
		return "", false
	}
	frag = strings.TrimPrefix(frag, "+")
	frag = strings.TrimSpace(frag)
	if frag == "" {
		return "", false
	}
	raw, err := os.ReadFile(targetPath)
	if err != nil {
		return "", false
	}
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if len(lines) == 0 {
		return "", false
	}
	// Replace the single line sharing a prefix token with the fragment,
	// or the only line when the file has exactly one.
	idx := -1
	if len(lines) == 1 {
		idx = 0
	} else {
		token := leadingToken(frag)
		if token == "" {
			return "", false
		}
		for i, line := range lines {
			if leadingToken(strings.TrimSpace(line)) == token {
				if idx >= 0 {
					return "", false // ambiguous
				}
				idx = i
			}
		}
	}
	if idx < 0 || lines[idx] == frag {
		return "", false
	}
	diff := fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ -%d,1 +%d,1 @@\n-%s\n+%s",
		targetBasename, targetBasename, idx+1, idx+1, lines[idx], frag)
	return diff, true
}

func leadingToken(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '(' || r == '=' {
			return s[:i]
		}
	}
	return s
}

// Summary describes a unified diff at the file/line-count level.
type Summary struct {
	Files     []string `json:"files"`
	Additions int      `json:"additions"`
	Deletions int      `json:"deletions"`
}

// Summarize counts added/removed lines and collects the touched +++ b/
// paths from a unified diff, sorted.
func Summarize(diffText string) Summary {
	seen := map[string]bool{}
	sum := Summary{Files: []string{}}
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ /dev/null"):
		case strings.HasPrefix(line, "+++ b/"):
			name := strings.TrimSpace(line[len("+++ b/"):])
			if name != "" && !seen[name] {
				seen[name] = true
				sum.Files = append(sum.Files, name)
			}
		case strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "+"):
			sum.Additions++
		case strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "-"):
			sum.Deletions++
		}
	}
	sort.Strings(sum.Files)
	return sum
}

// TouchedFiles extracts the set of real paths named by --- a/ and +++ b/
// headers, excluding /dev/null, sorted.
func TouchedFiles(diffText string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || p == "/dev/null" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, "--- a/") {
			add(line[len("--- a/"):])
		} else if strings.HasPrefix(line, "+++ b/") {
			add(line[len("+++ b/"):])
		}
	}
	sort.Strings(out)
	return out
}
