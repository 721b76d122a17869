// Package plugin discovers external plugin manifests. A plugin is a
// YAML manifest under the plugins directory naming an id, a kind
// (executor, validator, or generator), and the command to run.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	KindExecutor  = "executor"
	KindValidator = "validator"
	KindGenerator = "generator"
)

// Manifest describes one plugin.
type Manifest struct {
	ID          string   `yaml:"id" json:"id"`
	Kind        string   `yaml:"kind" json:"kind"`
	Command     []string `yaml:"command" json:"command"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	// Path is the manifest file this was loaded from.
	Path string `yaml:"-" json:"-"`
}

var manifestSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "kind", "command"},
	"properties": map[string]any{
		"id": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"kind": map[string]any{
			"type": "string",
			"enum": []any{KindExecutor, KindValidator, KindGenerator},
		},
		"command": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string"},
		},
		"description": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Load parses and validates a single manifest file.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	// Round-trip through JSON so the schema sees plain JSON types.
	blob, err := json.Marshal(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(blob, &doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	schema, err := compileSchema(manifestSchema)
	if err != nil {
		return Manifest{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Discover loads every *.yaml and *.yml manifest under dir, sorted by
// id. A missing directory yields no plugins. Invalid manifests are
// returned as warnings rather than failing discovery.
func Discover(dir string) ([]Manifest, []string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}
	var manifests []Manifest
	var warnings []string
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := Load(filepath.Join(dir, de.Name()))
		if err != nil {
			warnings = append(warnings, err.Error())
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].ID < manifests[j].ID })
	return manifests, warnings
}

// ByKind filters manifests to one kind.
func ByKind(manifests []Manifest, kind string) []Manifest {
	var out []Manifest
	for _, m := range manifests {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
