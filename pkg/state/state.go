// Package state persists run markers: the completion time of the last
// fully successful export per scope. Losing this state is harmless, it
// only widens the next caller's idea of what might be stale.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store records and retrieves per-scope run markers.
type Store interface {
	// LastRun returns the recorded completion time for the scope, or the
	// zero time when none is recorded.
	LastRun(scope string) (time.Time, error)
	// RecordRun stores the completion time for the scope.
	RecordRun(scope string, completed time.Time) error
}

// FileStore keeps run markers in a single JSON file keyed by scope id.
// The file is read on every call; markers are written a handful of times
// per run.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path. The file and its directory
// are created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) LastRun(scope string) (time.Time, error) {
	markers, err := s.load()
	if err != nil {
		return time.Time{}, err
	}
	raw, ok := markers[scope]
	if !ok {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse run marker for %s: %w", scope, err)
	}
	return t, nil
}

func (s *FileStore) RecordRun(scope string, completed time.Time) error {
	markers, err := s.load()
	if err != nil {
		return err
	}
	markers[scope] = completed.UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(markers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run markers: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	// Write-then-rename keeps a crash from truncating existing markers.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run markers: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace run markers: %w", err)
	}
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run markers: %w", err)
	}
	markers := map[string]string{}
	if err := json.Unmarshal(data, &markers); err != nil {
		return nil, fmt.Errorf("failed to parse run markers %s: %w", s.path, err)
	}
	return markers, nil
}

// Noop discards markers and remembers nothing. Used when no state path is
// configured and for dry runs.
type Noop struct{}

func (Noop) LastRun(string) (time.Time, error) { return time.Time{}, nil }
func (Noop) RecordRun(string, time.Time) error { return nil }
