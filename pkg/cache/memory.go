package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryCapacity bounds the in-memory store. Local development never
// approaches this; it only guards against unbounded growth.
const memoryCapacity = 4096

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an LRU-backed Store used when no redis instance is
// configured, so developers can run the gateway without installing redis.
// Entries honor per-key TTLs checked on read.
type MemoryStore struct {
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	entries, err := lru.New[string, memoryEntry](memoryCapacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		entries: entries,
		now:     time.Now,
	}, nil
}

// Get retrieves a value, treating expired entries as misses.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.entries.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value with the given TTL. A zero TTL stores without expiry.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries.Add(key, entry)
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close discards all entries.
func (s *MemoryStore) Close() error {
	s.entries.Purge()
	return nil
}
