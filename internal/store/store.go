// Package store persists resolved diffs: a content-addressed response
// cache keyed by a fingerprint of the resolution inputs, and a
// timestamped archive of every accepted diff. Both directories are
// bounded by an optional max-entry count with oldest-first eviction.
package store

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// Fingerprint derives the cache key for a resolution. Two resolutions
// share a key exactly when every input that can influence the produced
// diff is identical. Every field is hashed with a length prefix, empty
// fields included, so text cannot shift between adjacent fields without
// changing the key. Field order is fixed; changing it invalidates all
// existing caches.
func Fingerprint(prompt, preamble string, files []string, stdin, stdinLabel, ollamaModel, codexModels string, maxAttempts int) string {
	h := blake3.New()
	field := func(s string) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	field(prompt)
	field(preamble)
	field(strconv.Itoa(len(files)))
	for _, f := range files {
		field(f)
	}
	field(stdin)
	field(stdinLabel)
	field(ollamaModel)
	field(codexModels)
	field(strconv.Itoa(maxAttempts))
	return hex.EncodeToString(h.Sum(nil))
}

// Metadata is the sidecar written next to each cached diff. It records
// what produced the entry so a human inspecting the cache directory can
// tell entries apart without recomputing keys.
type Metadata struct {
	Prompt            string   `json:"prompt"`
	ContextFiles      []string `json:"context_files"`
	StdinLabel        string   `json:"stdin_label"`
	OllamaModel       string   `json:"ollama_model"`
	CodexModels       string   `json:"codex_models"`
	MaxOllamaAttempts int      `json:"max_ollama_attempts"`
	PromptTemplate    string   `json:"prompt_template"`
}

// Cache is a directory of <key>.diff payloads with <key>.json sidecars.
// MaxEntries <= 0 means unbounded.
type Cache struct {
	Dir        string
	MaxEntries int
}

// Lookup returns the cached diff for key, if present.
func (c *Cache) Lookup(key string) (string, bool) {
	if c == nil || c.Dir == "" || key == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(c.Dir, key+".diff"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Store writes the diff and its metadata sidecar, then evicts the
// oldest entries if the cache exceeds MaxEntries.
func (c *Cache) Store(key, diff string, meta Metadata) error {
	if c.Dir == "" || key == "" {
		return nil
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir, key+".diff"), []byte(diff), 0o644); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	blob, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Dir, key+".json"), blob, 0o644); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return c.prune()
}

func (c *Cache) prune() error {
	if c.MaxEntries <= 0 {
		return nil
	}
	entries, err := diffEntries(c.Dir)
	if err != nil {
		return err
	}
	for len(entries) > c.MaxEntries {
		victim := entries[0]
		entries = entries[1:]
		if err := os.Remove(filepath.Join(c.Dir, victim.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
		sidecar := strings.TrimSuffix(victim.name, ".diff") + ".json"
		if err := os.Remove(filepath.Join(c.Dir, sidecar)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Archive keeps one timestamped file per accepted diff. Now and Entropy
// exist so tests can pin names; both default to the obvious choice.
type Archive struct {
	Dir        string
	MaxEntries int
	Now        func() time.Time
	Entropy    io.Reader
}

// Save writes the diff as <timestamp>-<ulid>.diff and returns the full
// path. Older entries beyond MaxEntries are removed.
func (a *Archive) Save(diff string) (string, error) {
	if a.Dir == "" {
		return "", fmt.Errorf("archive dir not set")
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	ts := now().UTC()
	entropy := a.Entropy
	if entropy == nil {
		entropy = ulid.DefaultEntropy()
	}
	id, err := ulid.New(ulid.Timestamp(ts), entropy)
	if err != nil {
		return "", fmt.Errorf("archive id: %w", err)
	}
	name := ts.Format("20060102T150405") + "-" + id.String() + ".diff"
	path := filepath.Join(a.Dir, name)
	if err := os.WriteFile(path, []byte(diff), 0o644); err != nil {
		return "", fmt.Errorf("write archive entry: %w", err)
	}
	if err := a.prune(); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Archive) prune() error {
	if a.MaxEntries <= 0 {
		return nil
	}
	entries, err := diffEntries(a.Dir)
	if err != nil {
		return err
	}
	for len(entries) > a.MaxEntries {
		victim := entries[0]
		entries = entries[1:]
		if err := os.Remove(filepath.Join(a.Dir, victim.name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

type diffEntry struct {
	name  string
	mtime time.Time
}

// diffEntries lists *.diff files oldest first. Modification time is the
// primary order; name breaks ties so eviction stays deterministic when
// a filesystem's clock is coarse.
func diffEntries(dir string) ([]diffEntry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []diffEntry
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".diff") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, diffEntry{name: de.Name(), mtime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mtime.Equal(entries[j].mtime) {
			return entries[i].name < entries[j].name
		}
		return entries[i].mtime.Before(entries[j].mtime)
	})
	return entries, nil
}
