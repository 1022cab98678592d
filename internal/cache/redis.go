// Package cache stores bounded conversation snapshots in Redis lists.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key holds no items.
var ErrMiss = errors.New("cache miss")

// RedisList keeps one list per key.
type RedisList struct {
	client redis.UniversalClient
}

func NewRedisList(client redis.UniversalClient) *RedisList {
	return &RedisList{client: client}
}

// Range returns up to limit items from the head of the list.
func (c *RedisList) Range(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, ErrMiss
	}
	items, err := c.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	if len(items) == 0 {
		return nil, ErrMiss
	}
	return items, nil
}

// Replace swaps the list for items and sets its TTL as one MULTI/EXEC block,
// so readers see either the old list or the new one.
func (c *RedisList) Replace(ctx context.Context, key string, items []string, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(items) == 0 {
			return nil
		}
		values := make([]interface{}, len(items))
		for i, it := range items {
			values[i] = it
		}
		pipe.RPush(ctx, key, values...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", key, err)
	}
	return nil
}
