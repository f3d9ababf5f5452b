package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Persister with a Redis read-through copy of the last
// snapshot. Saves always go to the base persister first.
type Cache struct {
	base  Persister
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewCache creates a caching persister for boardID using the provided Redis
// client and TTL. A zero TTL disables caching of loads.
func NewCache(base Persister, client *redis.Client, boardID string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base persister is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, key: cacheKey(boardID), ttl: ttl}
}

func cacheKey(boardID string) string {
	return "board:" + boardID + ":cache"
}

func (c *Cache) Save(ctx context.Context, s Snapshot) error {
	if err := c.base.Save(ctx, s); err != nil {
		c.evict(ctx)
		return err
	}
	c.store(ctx, s)
	return nil
}

func (c *Cache) Load(ctx context.Context) (*Snapshot, error) {
	if s, ok := c.load(ctx); ok {
		return s, nil
	}
	s, err := c.base.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s != nil {
		c.store(ctx, *s)
	}
	return s, nil
}

func (c *Cache) Clear(ctx context.Context) error {
	c.evict(ctx)
	return c.base.Clear(ctx)
}

func (c *Cache) load(ctx context.Context) (*Snapshot, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the base persister without failing.
			c.evict(ctx)
		}
		return nil, false
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		c.evict(ctx)
		return nil, false
	}
	return s, true
}

func (c *Cache) store(ctx context.Context, s Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := encodeSnapshot(s)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.key).Err()
}
