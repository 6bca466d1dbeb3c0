package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pagePrefix = "page:"

// PageCache stores rendered JSON views keyed by path and variant.
type PageCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewPageCache(client redis.UniversalClient, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PageCache{client: client, ttl: ttl}
}

func pageKey(path, variant string) string {
	return pagePrefix + path + "|" + variant
}

func (c *PageCache) Load(ctx context.Context, path, variant string, dst interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, pageKey(path, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached page: %w", err)
	}
	return true, nil
}

func (c *PageCache) Store(ctx context.Context, path, variant string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached page: %w", err)
	}
	return c.client.Set(ctx, pageKey(path, variant), raw, c.ttl).Err()
}

// Invalidate drops every cached variant of path.
func (c *PageCache) Invalidate(ctx context.Context, path string) error {
	var cursor uint64
	pattern := pagePrefix + path + "|*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan cached pages: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cached pages: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
