// Package cache provides the ephemeral key-value store behind participant
// snapshots and browser sessions.
//
// RedisStore is the production implementation; MemoryStore is an LRU
// fallback selected when no redis URL is configured, so local development
// needs no redis install. Both honor per-key TTLs and treat missing keys
// as (nil, nil) misses.
package cache
