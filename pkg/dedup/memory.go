package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used in development and
// tests. Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time

	// now is swapped in tests.
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	expiry, exists := s.seen[key]
	if exists && now.Before(expiry) {
		return false, nil
	}

	s.seen[key] = now.Add(ttl)

	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
