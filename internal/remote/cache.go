package remote

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// ExistenceCache remembers catalog lookups in Redis. A nil *ExistenceCache
// is valid and caches nothing.
type ExistenceCache struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewExistenceCache returns a cache storing entries under prefix for ttl.
// A non-positive ttl disables caching.
func NewExistenceCache(client redis.Cmdable, prefix string, ttl time.Duration) *ExistenceCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &ExistenceCache{client: client, ttl: ttl, prefix: prefix}
}

// Get returns the cached answer for id and whether one was cached.
func (c *ExistenceCache) Get(ctx context.Context, id string) (exists, ok bool, err error) {
	if c == nil {
		return false, false, nil
	}
	v, err := c.client.Get(ctx, c.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, errors.Wrap(err, "redis get")
	}
	return v == "1", true, nil
}

// Set caches the answer for id.
func (c *ExistenceCache) Set(ctx context.Context, id string, exists bool) error {
	if c == nil {
		return nil
	}
	v := "0"
	if exists {
		v = "1"
	}
	if err := c.client.Set(ctx, c.prefix+id, v, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
