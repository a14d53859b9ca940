// Package memory provides a process-local token store backend. Nothing survives
// a restart, which matches a browser profile with persistence disabled.
package memory

import (
	"context"
	"sync"
)

// Store is a mutex guarded map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string]string)}
}

// Get implements persistence.KV.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

// GetMany implements persistence.KV.
func (s *Store) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := s.entries[key]; ok {
			values[key] = value
		}
	}
	return values, nil
}

// Put implements persistence.KV.
func (s *Store) Put(_ context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range entries {
		s.entries[key] = value
	}
	return nil
}

// Delete implements persistence.KV.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// Len reports how many keys are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
