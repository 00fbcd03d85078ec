package cache

import (
	"context"
	"time"
)

// Store is a key-value store for short-lived JSON snapshots and session
// blobs. Get returns (nil, nil) on a miss. Per-key reads and writes are
// atomic; last-writer-wins is acceptable for every value stored here.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
