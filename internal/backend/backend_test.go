package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPickOllamaModel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"phi3:mini", "phi3:mini"},
		{"phi3:mini,codellama:7b", "phi3:mini"},
		{"api:ollama:phi3:mini,api:ollama:codellama:7b-instruct", "phi3:mini"},
		{"  ", "qwen2.5-coder:7b-instruct"},
		{"", "qwen2.5-coder:7b-instruct"},
	}
	for _, tc := range cases {
		if got := PickOllamaModel(tc.in); got != tc.want {
			t.Fatalf("PickOllamaModel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOllamaAttempt_Success(t *testing.T) {
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, srv.Client())
	ok, text, msg := c.Attempt(context.Background(), "phi3:mini", "do the thing", nil)
	if !ok {
		t.Fatalf("attempt failed: %s", msg)
	}
	if !strings.Contains(text, "@@ -1 +1 @@") {
		t.Fatalf("unexpected text %q", text)
	}
	if gotBody.Model != "phi3:mini" || gotBody.Stream {
		t.Fatalf("request body: %+v", gotBody)
	}
}

func TestOllamaAttempt_NDJSONFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"partial\"}\n{\"response\":\"final text\"}\n"))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, srv.Client())
	ok, text, msg := c.Attempt(context.Background(), "phi3:mini", "p", nil)
	if !ok {
		t.Fatalf("attempt failed: %s", msg)
	}
	if text != "final text" {
		t.Fatalf("got %q want last NDJSON line's response", text)
	}
}

func TestOllamaAttempt_EmptyAndErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "  "})
	}))
	defer srv.Close()
	c := NewOllamaClient(srv.URL, srv.Client())
	if ok, _, msg := c.Attempt(context.Background(), "m", "p", nil); ok || !strings.Contains(msg, "Empty response") {
		t.Fatalf("empty response not rejected: ok=%v msg=%q", ok, msg)
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv2.Close()
	c2 := NewOllamaClient(srv2.URL, srv2.Client())
	if ok, _, msg := c2.Attempt(context.Background(), "m", "p", nil); ok || !strings.Contains(msg, "HTTP 404") {
		t.Fatalf("HTTP error not surfaced: ok=%v msg=%q", ok, msg)
	}
}

func TestOllamaAttempt_Unreachable(t *testing.T) {
	c := NewOllamaClient("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	ok, _, msg := c.Attempt(context.Background(), "m", "p", nil)
	if ok {
		t.Fatalf("expected failure against closed port")
	}
	if !strings.Contains(msg, "[ERR]") {
		t.Fatalf("message missing error marker: %q", msg)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCodexCLIAttempt_CapturesStdout(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "codex-local",
		"printf -- '--- a/f\\n+++ b/f\\n@@ -1 +1 @@\\n-x\\n+y\\n'\n")
	c := NewCodexCLI(exe)
	ok, text, msg := c.Attempt(context.Background(), "modelA", "prompt", []string{"f"})
	if !ok {
		t.Fatalf("attempt failed: %s", msg)
	}
	if !strings.HasPrefix(text, "--- a/f") {
		t.Fatalf("unexpected stdout %q", text)
	}
}

func TestCodexCLIAttempt_NonZeroExit(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "codex-local", "echo boom >&2\nexit 7\n")
	c := NewCodexCLI(exe)
	ok, _, msg := c.Attempt(context.Background(), "m", "p", nil)
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "exit 7") || !strings.Contains(msg, "boom") {
		t.Fatalf("message %q", msg)
	}
}

func TestCodexCLIAttempt_MissingExecutable(t *testing.T) {
	c := NewCodexCLI(filepath.Join(t.TempDir(), "definitely-not-here"))
	ok, _, msg := c.Attempt(context.Background(), "m", "p", nil)
	if ok {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(msg, "[ERR]") {
		t.Fatalf("message %q", msg)
	}
}

func TestCodexCLIAttempt_EmptyOutput(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "codex-local", "exit 0\n")
	c := NewCodexCLI(exe)
	ok, _, msg := c.Attempt(context.Background(), "m", "p", nil)
	if ok || !strings.Contains(msg, "Empty response") {
		t.Fatalf("ok=%v msg=%q", ok, msg)
	}
}

func TestOllamaCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, srv.Client()).Check(context.Background()); err != nil {
		t.Fatalf("check against live server: %v", err)
	}

	c := NewOllamaClient("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	err := c.Check(context.Background())
	if err == nil {
		t.Fatalf("expected failure against closed port")
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error %v does not wrap ErrUnreachable", err)
	}
}

func TestCodexCLICheck(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "codex-local", "exit 0\n")
	if err := NewCodexCLI(exe).Check(); err != nil {
		t.Fatalf("check on existing executable: %v", err)
	}
	missing := filepath.Join(t.TempDir(), "definitely-not-here")
	if err := NewCodexCLI(missing).Check(); err == nil {
		t.Fatalf("expected error for missing executable")
	}
}

func TestCodexCLIAttempt_ContextTimeout(t *testing.T) {
	exe := writeScript(t, t.TempDir(), "codex-local", "sleep 5\n")
	c := NewCodexCLI(exe)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ok, _, msg := c.Attempt(ctx, "m", "p", nil)
	if ok {
		t.Fatalf("expected timeout failure")
	}
	if !strings.Contains(msg, "[ERR]") {
		t.Fatalf("message %q", msg)
	}
}
