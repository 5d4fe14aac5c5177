// Package cache is the read-through cache for prefix lookups. Writes never go through
// it; the service invalidates keys after each committed unit of work.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"prefixd/internal/registry/models"
	"prefixd/pkg/platform/sentinel"
)

const prefixKeyPrefix = "prefixd:prefix:"

// RedisCache stores prefix records as JSON with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns sentinel.ErrNotFound on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.Prefix, error) {
	raw, err := c.client.Get(ctx, prefixKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached prefix: %w", err)
	}
	var p models.Prefix
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached prefix: %w", err)
	}
	return &p, nil
}

func (c *RedisCache) Set(ctx context.Context, p *models.Prefix) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prefix: %w", err)
	}
	return c.client.Set(ctx, prefixKeyPrefix+p.Key, raw, c.ttl).Err()
}

// Invalidate drops keys in one pipeline.
func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, prefixKeyPrefix+k)
	}
	_, err := pipe.Exec(ctx)
	return err
}
