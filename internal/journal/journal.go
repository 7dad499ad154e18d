// Package journal is an append-only JSON-lines record of deployments and
// deletions, kept as an audit trail for vendor-side effects.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/instantiate/internal/provider"
)

// EntryType names a journal event.
type EntryType string

const (
	DeployStarted   EntryType = "deploy_started"
	DeploySucceeded EntryType = "deploy_succeeded"
	DeployFailed    EntryType = "deploy_failed"
	ResourceDeleted EntryType = "resource_deleted"
)

const filePattern = "instantiate-*.jsonl"

// Entry is one journal line.
type Entry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	Provider   provider.Kind   `json:"provider"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Journal appends entries to a file in dir.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	now      func() time.Time
}

// Open creates a new journal file in dir. Sequence numbers continue from
// the highest one found in existing files.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	last, err := lastSequence(dir)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("instantiate-%s.jsonl", time.Now().UTC().Format("20060102-150405.000000000"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &Journal{
		file:     file,
		writer:   bufio.NewWriter(file),
		sequence: last,
		dir:      dir,
		now:      time.Now,
	}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append records an event.
func (j *Journal) Append(t EntryType, p provider.Kind, resourceID string, data any) error {
	return j.append(t, p, resourceID, data, nil)
}

// AppendError records a failed event.
func (j *Journal) AppendError(t EntryType, p provider.Kind, resourceID string, data any, cause error) error {
	return j.append(t, p, resourceID, data, cause)
}

func (j *Journal) append(t EntryType, p provider.Kind, resourceID string, data any, cause error) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal journal data: %w", err)
		}
		raw = b
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	entry := Entry{
		ID:         uuid.NewString(),
		Timestamp:  j.now().UTC(),
		Sequence:   j.sequence,
		Type:       t,
		Provider:   p,
		ResourceID: resourceID,
		Data:       raw,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return j.writeEntry(entry)
}

// Caller must hold j.mu.
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := j.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.file.Sync()
}

// Reader iterates the entries of one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	return &Reader{scanner: bufio.NewScanner(file), file: file}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry in dir written after since, in file
// order. A handler error stops the replay.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := journalFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := replayFile(path, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}

// Prune removes journal files last modified before cutoff, except the one
// currently being written. It returns the number of files removed.
func (j *Journal) Prune(cutoff time.Time) (int, error) {
	files, err := journalFiles(j.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		if path == j.file.Name() {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
		removed++
	}
	return removed, nil
}

func journalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, fmt.Errorf("list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func lastSequence(dir string) (int64, error) {
	var last int64
	err := Replay(dir, time.Time{}, func(e *Entry) error {
		last = max(last, e.Sequence)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load journal sequence: %w", err)
	}
	return last, nil
}
