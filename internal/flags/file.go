package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileStore is a durable Store persisted as a small JSON file. It is
// the default backend for the device-scoped flags.
type FileStore struct {
	mu    sync.Mutex
	path  string
	flags map[string]bool
}

// NewFileStore loads (or initializes) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, flags: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read flag store: %w", err)
	}
	if err := json.Unmarshal(data, &s.flags); err != nil {
		return nil, fmt.Errorf("parse flag store: %w", err)
	}
	return s, nil
}

// Get returns the flag value, false when unset.
func (s *FileStore) Get(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

// Set stores the flag value and persists the store.
func (s *FileStore) Set(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
	return s.flush()
}

// Clear removes the flag and persists the store.
func (s *FileStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, key)
	return s.flush()
}

// Consume reads and clears the flag in one step.
func (s *FileStore) Consume(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.flags[key]
	delete(s.flags, key)
	return v, s.flush()
}

// flush writes the store atomically. Callers hold the lock.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.flags, "", "  ")
	if err != nil {
		return fmt.Errorf("encode flag store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write flag store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write flag store: %w", err)
	}
	return nil
}
