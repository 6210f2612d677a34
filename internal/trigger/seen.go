package trigger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// SeenStore records, per issue, the last sub-event the engine acted on.
// Mark is called before the long-running work starts so near-simultaneous
// polls cannot double-trigger.
type SeenStore interface {
	Seen(issue int, commentID int64) (bool, error)
	Mark(issue int, commentID int64) error
}

// MemorySeenStore is an in-memory SeenStore for tests and one-shot runs.
type MemorySeenStore struct {
	mu   sync.Mutex
	last map[int]int64
}

// NewMemorySeenStore creates an empty in-memory store.
func NewMemorySeenStore() *MemorySeenStore {
	return &MemorySeenStore{last: make(map[int]int64)}
}

func (s *MemorySeenStore) Seen(issue int, commentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[issue]
	return ok && last == commentID, nil
}

func (s *MemorySeenStore) Mark(issue int, commentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[issue] = commentID
	return nil
}

// FileSeenStore persists the per-issue last comment id as a JSON file so
// restarts do not re-trigger already-handled events.
type FileSeenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileSeenStore creates a store backed by path. The file is created on
// first Mark.
func NewFileSeenStore(path string) *FileSeenStore {
	return &FileSeenStore{path: path}
}

func (s *FileSeenStore) Seen(issue int, commentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return false, err
	}
	last, ok := m[strconv.Itoa(issue)]
	return ok && last == commentID, nil
}

func (s *FileSeenStore) Mark(issue int, commentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.read()
	if err != nil {
		return err
	}
	m[strconv.Itoa(issue)] = commentID
	return s.write(m)
}

func (s *FileSeenStore) read() (map[string]int64, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading seen store: %w", err)
	}
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding seen store: %w", err)
	}
	return m, nil
}

func (s *FileSeenStore) write(m map[string]int64) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding seen store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".seen-*")
	if err != nil {
		return fmt.Errorf("creating seen store temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing seen store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing seen store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing seen store: %w", err)
	}
	return nil
}
