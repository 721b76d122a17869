package diffshape

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStripCodeFences_RemovesDiffFence(t *testing.T) {
	in := "```diff\n--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-old\n+new\n```\n"
	want := "--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-old\n+new"
	if got := StripCodeFences(in); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStripCodeFences_LeavesUnfencedTextAlone(t *testing.T) {
	in := "--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-old\n+new"
	if got := StripCodeFences(in); got != in {
		t.Fatalf("got %q want input unchanged", got)
	}
}

func TestStripCodeFences_Idempotent(t *testing.T) {
	inputs := []string{
		"```diff\n--- a/x\n+++ b/x\n@@\n```",
		"```\nplain\n```",
		"no fences at all",
		"```",
		"```\n```\n```",
		"```diff\nunterminated fence",
		"  \n```go\ncode\n```\n  ",
		"",
	}
	for _, in := range inputs {
		once := StripCodeFences(in)
		twice := StripCodeFences(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestLooksLikeUnifiedDiff_AcceptsUnified(t *testing.T) {
	diff := "--- a/file.go\n+++ b/file.go\n@@ -1,2 +1,2 @@\n-old\n+new"
	if !LooksLikeUnifiedDiff(diff) {
		t.Fatalf("unified diff not recognized")
	}
}

func TestLooksLikeUnifiedDiff_AcceptsContextStyle(t *testing.T) {
	diff := "*** 1,3 ***\n--- a/file.txt\n+++ b/file.txt\n*** 1 ****\n-old line\n--- 1 ----\n+new line\n"
	if !LooksLikeUnifiedDiff(diff) {
		t.Fatalf("context diff not recognized")
	}
}

func TestLooksLikeUnifiedDiff_RejectsProse(t *testing.T) {
	for _, in := range []string{
		"",
		"Here is the change you asked for.",
		"+just an added line without headers",
		"--- only an old header",
	} {
		if LooksLikeUnifiedDiff(in) {
			t.Fatalf("misclassified %q as diff", in)
		}
	}
}

func TestLooksLikeUnifiedDiff_InvariantUnderStripping(t *testing.T) {
	inputs := []string{
		"```diff\n--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n```",
		"--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b",
		"```\nnot a diff\n```",
		"not a diff",
		"```",
	}
	for _, in := range inputs {
		if LooksLikeUnifiedDiff(in) != LooksLikeUnifiedDiff(StripCodeFences(in)) {
			t.Fatalf("classification changed under stripping for %q", in)
		}
	}
}

func TestCoerceUnified_RewritesSingleLine(t *testing.T) {
	target := filepath.Join(t.TempDir(), "hello.py")
	if err := os.WriteFile(target, []byte("print('old')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	diff, ok := CoerceUnified("+print('new')", "hello.py", target)
	if !ok {
		t.Fatalf("coercion failed")
	}
	if !LooksLikeUnifiedDiff(diff) {
		t.Fatalf("coerced output is not diff-shaped:\n%s", diff)
	}
	if !strings.Contains(diff, "-print('old')") || !strings.Contains(diff, "+print('new')") {
		t.Fatalf("unexpected hunk:\n%s", diff)
	}
}

func TestCoerceUnified_MatchesLineByLeadingToken(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf.py")
	if err := os.WriteFile(target, []byte("debug = False\nport = 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	diff, ok := CoerceUnified("port = 9090", "conf.py", target)
	if !ok {
		t.Fatalf("coercion failed")
	}
	if !strings.Contains(diff, "@@ -2,1 +2,1 @@") {
		t.Fatalf("wrong line targeted:\n%s", diff)
	}
}

func TestCoerceUnified_FailsClosed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "multi.py")
	if err := os.WriteFile(target, []byte("x = 1\nx = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name, fragment, path string
	}{
		{"missing target", "+x = 3", filepath.Join(dir, "nope.py")},
		{"ambiguous line", "x = 3", target},
		{"multiline fragment", "x = 3\ny = 4", target},
		{"empty fragment", "   ", target},
	}
	for _, tc := range cases {
		if _, ok := CoerceUnified(tc.fragment, "multi.py", tc.path); ok {
			t.Fatalf("%s: expected coercion to fail", tc.name)
		}
	}
}

func TestSummarize(t *testing.T) {
	diff := "--- a/a.go\n+++ b/a.go\n@@ -1,2 +1,3 @@\n-gone\n+one\n+two\n--- a/b.go\n+++ b/b.go\n@@ -1 +1 @@\n-x\n+y"
	sum := Summarize(diff)
	if sum.Additions != 3 || sum.Deletions != 2 {
		t.Fatalf("got +%d -%d want +3 -2", sum.Additions, sum.Deletions)
	}
	if len(sum.Files) != 2 || sum.Files[0] != "a.go" || sum.Files[1] != "b.go" {
		t.Fatalf("files: %v", sum.Files)
	}
}

func TestTouchedFiles_SkipsDevNull(t *testing.T) {
	diff := "--- /dev/null\n+++ b/new.go\n@@ -0,0 +1 @@\n+hi\n--- a/old.go\n+++ /dev/null\n@@ -1 +0,0 @@\n-bye"
	got := TouchedFiles(diff)
	if len(got) != 2 || got[0] != "new.go" || got[1] != "old.go" {
		t.Fatalf("touched: %v", got)
	}
}

func TestSummarizeAndTouchedFilesSorted(t *testing.T) {
	diff := "--- a/z.go\n+++ b/z.go\n@@ -1 +1 @@\n-x\n+y\n--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-p\n+q"
	sum := Summarize(diff)
	if len(sum.Files) != 2 || sum.Files[0] != "a.go" || sum.Files[1] != "z.go" {
		t.Fatalf("summary files not sorted: %v", sum.Files)
	}
	got := TouchedFiles(diff)
	if len(got) != 2 || got[0] != "a.go" || got[1] != "z.go" {
		t.Fatalf("touched files not sorted: %v", got)
	}
}
