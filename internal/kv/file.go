package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileLockRetry = 20 * time.Millisecond

type fileEntry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FileStore persists entries as one JSON document. The file is the only
// source of truth: reads load it, and mutations run read-modify-write under
// an advisory lock on path+".lock", so a one-shot agent command and a running
// heartbeat never overwrite each other's updates.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	now  func() time.Time
}

// OpenFileStore checks that path is readable, creating an empty store when it
// does not exist
func OpenFileStore(path string, now func() time.Time) (*FileStore, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s := &FileStore{path: path, lock: flock.New(path + ".lock"), now: now}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, false, err
	}
	e, ok := entries[key]
	if !ok || s.expired(e) {
		return nil, false, nil
	}
	return append([]byte(nil), e.Value...), true, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := fileEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		exp := s.now().Add(ttl)
		e.ExpiresAt = &exp
	}
	return s.update(ctx, func(entries map[string]fileEntry) bool {
		entries[key] = e
		return true
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(entries map[string]fileEntry) bool {
		if _, ok := entries[key]; !ok {
			return false
		}
		delete(entries, key)
		return true
	})
}

// update applies mutate to the current document under the file lock and
// writes it back when mutate reports a change
func (s *FileStore) update(ctx context.Context, mutate func(map[string]fileEntry) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock state file: %s is held by another process", s.lock.Path())
	}
	defer s.lock.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if !mutate(entries) {
		return nil
	}
	return s.flush(entries)
}

func (s *FileStore) load() (map[string]fileEntry, error) {
	entries := make(map[string]fileEntry)
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return entries, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
		}
	}
	return entries, nil
}

func (s *FileStore) expired(e fileEntry) bool {
	return e.ExpiresAt != nil && !s.now().Before(*e.ExpiresAt)
}

// flush drops expired entries and replaces the document via a temp file.
// The caller holds the file lock.
func (s *FileStore) flush(entries map[string]fileEntry) error {
	for k, e := range entries {
		if s.expired(e) {
			delete(entries, k)
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
