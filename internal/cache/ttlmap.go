package cache

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLMap is an in-process map whose entries expire after a fixed lifetime.
// Expired entries are dropped lazily on read and swept on write once the
// map grows past sweepThreshold.
type TTLMap[V any] struct {
	mu      sync.Mutex
	entries map[string]ttlEntry[V]
	now     func() time.Time
}

const sweepThreshold = 1024

// NewTTLMap returns an empty map using the real clock.
func NewTTLMap[V any]() *TTLMap[V] {
	return &TTLMap[V]{
		entries: make(map[string]ttlEntry[V]),
		now:     time.Now,
	}
}

// Get returns the value stored under key if it has not expired.
func (m *TTLMap[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl deletes the key.
func (m *TTLMap[V]) Set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.entries, key)
		return
	}
	now := m.now()
	if len(m.entries) >= sweepThreshold {
		for k, e := range m.entries {
			if !now.Before(e.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	m.entries[key] = ttlEntry[V]{value: value, expiresAt: now.Add(ttl)}
}

// Delete removes key.
func (m *TTLMap[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, including ones not yet swept.
func (m *TTLMap[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
