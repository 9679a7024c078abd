// Package idempotency records keys of operations that have already completed
// so that replays of the same operation become no-ops.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store checks and records completed operation keys.
// Implementations must be safe for concurrent use.
type Store interface {
	// Contains returns true if the key has already been recorded.
	Contains(ctx context.Context, key string) (bool, error)
	// Add records the key. It should be called after the operation succeeded.
	Add(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store for tests and single-instance
// deployments. Entries expire after the configured TTL to bound memory usage.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store with the given TTL. Expired
// entries are lazily cleaned up on access.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Contains checks if the key exists and is not expired.
func (s *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	ts, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if s.now().Sub(ts) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Add records the key with the current timestamp.
func (s *MemoryStore) Add(_ context.Context, key string) error {
	s.mu.Lock()
	s.entries[key] = s.now()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries in the store (including potentially expired ones).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
