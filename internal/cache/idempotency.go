package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// IdempotencyStore remembers the result of a side effect under its key so
// that a re-driven attempt can reuse it instead of running again.
type IdempotencyStore interface {
	// Get returns the stored result and whether the key is known
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Put records the result of a successful attempt
	Put(ctx context.Context, key string, result json.RawMessage) error
	Close() error
}

type memoryEntry struct {
	result    json.RawMessage
	expiresAt time.Time
}

// MemoryIdempotencyStore keeps keys in process memory
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates an in-memory store. A zero ttl keeps
// keys forever.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return entry.result, true, nil
}

func (s *MemoryIdempotencyStore) Put(ctx context.Context, key string, result json.RawMessage) error {
	entry := memoryEntry{result: result}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotencyStore) Close() error { return nil }
