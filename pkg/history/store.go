// Package history keeps a bounded, JSON-backed log of pipeline runs.
// The file is loaded lazily on first use and written atomically on Save.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
)

// DefaultMaxEntries bounds the log when no limit is configured.
const DefaultMaxEntries = 200

// Entry records the outcome of one job run.
type Entry struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Source      string    `json:"source"`
	Format      string    `json:"format"`
	Destination string    `json:"destination"`
	MediaType   string    `json:"media_type,omitempty"`
	Records     int       `json:"records"`
	Bytes       int64     `json:"bytes"`
	Finished    time.Time `json:"finished"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	Error       string    `json:"error,omitempty"`
}

// OK reports whether the run succeeded.
func (e Entry) OK() bool { return e.Error == "" }

type file struct {
	Runs []Entry `json:"runs"`
}

// Store is the run log. Safe for concurrent use.
// Mutable
type Store struct {
	path string
	max  int

	mu     sync.Mutex
	data   *file
	loaded bool
	dirty  bool
}

// DefaultPath returns $XDG_STATE_HOME/rigcount/history.json.
func DefaultPath() string {
	return filepath.Join(xdg.StateHome, "rigcount", "history.json")
}

// Open returns a Store backed by path. Nothing is read until first use.
// max <= 0 selects DefaultMaxEntries.
func Open(path string, max int) *Store {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Store{path: path, max: max}
}

// Add appends e, dropping the oldest entries beyond the limit.
func (s *Store) Add(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.data.Runs = append(s.data.Runs, e)
	if over := len(s.data.Runs) - s.max; over > 0 {
		s.data.Runs = append([]Entry(nil), s.data.Runs[over:]...)
	}
	s.dirty = true
	return nil
}

// Last returns up to n of the most recent entries, newest first.
// n <= 0 returns all of them.
func (s *Store) Last(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	runs := s.data.Runs
	if n <= 0 || n > len(runs) {
		n = len(runs)
	}
	out := make([]Entry, 0, n)
	for i := len(runs) - 1; i >= len(runs)-n; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

// Save writes the log if it changed since it was loaded.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = &file{}
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal history %s: %w", s.path, err)
	}
	s.data = &f
	s.loaded = true
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file, then rename over the target.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.dirty = false
	return nil
}
