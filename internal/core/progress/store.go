package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Durability selects how far Save goes before reporting success.
type Durability string

const (
	// DurabilityRename relies on atomic replace-on-write only (default).
	DurabilityRename Durability = "rename"
	// DurabilityFsync additionally fsyncs the temp file before the rename.
	DurabilityFsync Durability = "fsync"
)

// Store is the durable completion record for one task. Completion is
// append-only and idempotent: marking an already-completed item is a no-op
// for correctness but still updates the last-item marker, so re-invocation
// after a partial failure is always safe.
type Store struct {
	path       string
	durability Durability
	log        *slog.Logger

	mu        sync.Mutex
	completed map[string]struct{}
	order     []string
	lastItem  string
	lastRun   *time.Time
	errors    []ItemError
}

// Options configures a store.
type Options struct {
	Durability Durability
	Logger     *slog.Logger
}

// Load opens the progress file for the named task, creating an empty record
// if the file is missing or unreadable. Corruption never fails the task: a
// bad file is logged and treated as empty.
func Load(dir, task string, opts Options) (*Store, error) {
	if opts.Durability == "" {
		opts.Durability = DurabilityRename
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create progress dir: %w", err)
	}

	s := &Store{
		path:       filepath.Join(dir, task+".json"),
		durability: opts.Durability,
		log:        opts.Logger,
		completed:  make(map[string]struct{}),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("Progress file corrupt, starting empty",
			"path", s.path, "error", err)
		return s, nil
	}

	for _, item := range rec.CompletedItems {
		if _, ok := s.completed[item]; !ok {
			s.completed[item] = struct{}{}
			s.order = append(s.order, item)
		}
	}
	s.lastItem = rec.LastItem
	s.lastRun = rec.LastRun
	s.errors = rec.Errors
	return s, nil
}

// MarkCompleted records an item as done. Idempotent.
func (s *Store) MarkCompleted(item string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.completed[item]; !ok {
		s.completed[item] = struct{}{}
		s.order = append(s.order, item)
	}
	s.lastItem = item
}

// IsCompleted reports whether an item has been completed.
func (s *Store) IsCompleted(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.completed[item]
	return ok
}

// CompletedSet returns a copy of the completed item keys.
func (s *Store) CompletedSet() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{}, len(s.completed))
	for item := range s.completed {
		out[item] = struct{}{}
	}
	return out
}

// AddError appends a failed item to the error log.
func (s *Store) AddError(item, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errors = append(s.errors, ItemError{
		Item:      item,
		Error:     message,
		Timestamp: time.Now(),
	})
}

// Record returns a copy of the current in-memory record.
func (s *Store) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Store) recordLocked() Record {
	rec := Record{
		CompletedItems: append([]string(nil), s.order...),
		LastItem:       s.lastItem,
		LastRun:        s.lastRun,
		Errors:         append([]ItemError(nil), s.errors...),
	}
	return rec
}

// Save flushes the record to disk. The write goes to a temp file in the same
// directory and is renamed over the old file, so a crash mid-write cannot
// corrupt the previous good state.
func (s *Store) Save() error {
	s.mu.Lock()
	now := time.Now()
	s.lastRun = &now
	rec := s.recordLocked()
	s.mu.Unlock()

	return s.write(rec)
}

// Reset clears all progress and immediately persists the empty state.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.completed = make(map[string]struct{})
	s.order = nil
	s.lastItem = ""
	s.errors = nil
	now := time.Now()
	s.lastRun = &now
	rec := s.recordLocked()
	s.mu.Unlock()

	return s.write(rec)
}

func (s *Store) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if s.durability == DurabilityFsync {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to fsync progress: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
