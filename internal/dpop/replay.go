package dpop

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayCache remembers proof jtis for their freshness window. Remember
// returns true when the jti was not seen before.
type ReplayCache interface {
	Remember(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// RedisReplayCache backs replay detection with Redis SET NX, giving every
// registry replica a shared view of used jtis.
type RedisReplayCache struct {
	client *goredis.Client
	prefix string
}

// NewRedisReplayCache creates a Redis-backed replay cache.
func NewRedisReplayCache(client *goredis.Client) *RedisReplayCache {
	return &RedisReplayCache{client: client, prefix: "dpop:jti:"}
}

func (c *RedisReplayCache) Remember(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	set, err := c.client.SetNX(ctx, c.prefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay cache setnx: %w", err)
	}
	return set, nil
}

// MemoryReplayCache is a process-local replay cache for development and
// single-replica deployments. Entries are swept lazily on access.
type MemoryReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryReplayCache creates an in-memory replay cache.
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{seen: make(map[string]time.Time)}
}

func (c *MemoryReplayCache) Remember(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, expiry := range c.seen {
		if now.After(expiry) {
			delete(c.seen, key)
		}
	}

	if expiry, ok := c.seen[jti]; ok && now.Before(expiry) {
		return false, nil
	}
	c.seen[jti] = now.Add(ttl)
	return true, nil
}
