// Package runlog appends one JSON line per resolution to a log file so
// runs can be audited or replayed later.
package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// Attempt records one backend invocation within a resolution.
type Attempt struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Record is one resolution outcome. Timestamp is RFC 3339 UTC.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  string    `json:"timestamp"`
	Prompt     string    `json:"prompt"`
	Source     string    `json:"source"`
	Returncode int       `json:"returncode"`
	Attempts   []Attempt `json:"attempts"`
}

// Stamp fills the record's id and timestamp from the given time.
func (r *Record) Stamp(t time.Time) {
	ts := t.UTC()
	r.Timestamp = ts.Format(time.RFC3339)
	if id, err := ulid.New(ulid.Timestamp(ts), ulid.DefaultEntropy()); err == nil {
		r.ID = id.String()
	}
}

// Append writes the record as a single JSON line, creating the file and
// its parent directory on first use.
func Append(path string, rec Record) error {
	return AppendJSON(path, rec)
}

// AppendJSON appends any value as one JSON line. An empty path is a
// no-op so callers can leave logging unconfigured.
func AppendJSON(path string, v any) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write log record: %w", err)
	}
	return f.Close()
}

// ReadRecords parses every line of the log file. Blank lines are
// skipped; a malformed line is an error.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("invalid log line: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
