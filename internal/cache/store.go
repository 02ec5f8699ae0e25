// Package cache provides the best-effort remote-object fingerprint cache.
// Entries only gate an optimization: a miss or a lost write costs one extra
// upstream call and never affects correctness.
package cache

import (
	"context"
	"time"
)

// Store is a time-bounded key/value backend.
type Store interface {
	// Get returns the value and true, or "" and false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	m *TTLMap[string]
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: NewTTLMap[string]()}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.m.Get(key)
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.m.Set(key, value, ttl)
	return nil
}
