package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidManifest(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "fmt.yaml", `
id: gofmt-check
kind: validator
command: ["gofmt", "-l", "."]
description: reject diffs that break formatting
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.ID != "gofmt-check" || m.Kind != KindValidator {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.Command) != 3 || m.Command[0] != "gofmt" {
		t.Errorf("command = %v", m.Command)
	}
	if m.Path != path {
		t.Errorf("path = %q", m.Path)
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing-id.yaml": `
kind: executor
command: ["run"]
`,
		"bad-kind.yaml": `
id: x
kind: transformer
command: ["run"]
`,
		"empty-command.yaml": `
id: x
kind: executor
command: []
`,
		"extra-field.yaml": `
id: x
kind: executor
command: ["run"]
color: blue
`,
	}
	for name, body := range cases {
		path := writeManifest(t, dir, name, body)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.yaml", "id: beta\nkind: executor\ncommand: [\"b\"]\n")
	writeManifest(t, dir, "a.yml", "id: alpha\nkind: generator\ncommand: [\"a\"]\n")
	writeManifest(t, dir, "broken.yaml", "id: 5\nkind: executor\ncommand: [\"c\"]\n")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	manifests, warnings := Discover(dir)
	if len(manifests) != 2 || manifests[0].ID != "alpha" || manifests[1].ID != "beta" {
		t.Fatalf("manifests = %+v", manifests)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "broken.yaml") {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	manifests, warnings := Discover(filepath.Join(t.TempDir(), "absent"))
	if manifests != nil || warnings != nil {
		t.Fatalf("got %v %v, want nil nil", manifests, warnings)
	}
}

func TestByKind(t *testing.T) {
	manifests := []Manifest{
		{ID: "a", Kind: KindExecutor},
		{ID: "b", Kind: KindValidator},
		{ID: "c", Kind: KindExecutor},
	}
	got := ByKind(manifests, KindExecutor)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("executors = %+v", got)
	}
	if got := ByKind(manifests, KindGenerator); len(got) != 0 {
		t.Errorf("generators = %+v", got)
	}
}
