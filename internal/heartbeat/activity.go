package heartbeat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome of one heartbeat check
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one line of the activity log
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Plugin  string         `json:"plugin,omitempty"`
	Outcome string         `json:"outcome,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ActivityLog is the append-only record of heartbeat checks
type ActivityLog interface {
	Append(ctx context.Context, e Entry) error
	Prune(ctx context.Context, before time.Time) (int, error)
	Recent(ctx context.Context, n int) ([]Entry, error)
}

// FileActivityLog stores entries as JSON lines
type FileActivityLog struct {
	path string
	mu   sync.Mutex
}

var _ ActivityLog = (*FileActivityLog)(nil)

// NewFileActivityLog creates a log at path. The file is created on first append.
func NewFileActivityLog(path string) *FileActivityLog {
	return &FileActivityLog{path: path}
}

// Append writes one entry
func (l *FileActivityLog) Append(_ context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal activity entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create activity log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write activity log: %w", err)
	}
	return nil
}

// Prune rewrites the log without entries older than before and returns how
// many were removed
func (l *FileActivityLog) Prune(_ context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	removed := 0
	for _, e := range entries {
		if e.Time.Before(before) {
			removed++
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("marshal activity entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return 0, fmt.Errorf("write pruned activity log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return 0, fmt.Errorf("replace activity log: %w", err)
	}
	return removed, nil
}

// Recent returns up to n of the newest entries in chronological order
func (l *FileActivityLog) Recent(_ context.Context, n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// readAll loads every parseable entry. Unreadable lines are skipped.
func (l *FileActivityLog) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) == nil {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read activity log: %w", err)
	}
	return entries, nil
}
