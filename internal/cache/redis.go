package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis with per-key TTLs. It is the default
// backend when the service runs with shared state across replicas.
type RedisCache struct {
	client *redis.Client
	counters
}

// Conn opens a Redis connection and verifies it with a ping.
func Conn(ctx context.Context, addr, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}

// NewRedisCache wraps an established Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.misses.Add(1)
			return "", false, nil
		}
		r.errors.Add(1)
		return "", false, err
	}
	r.hits.Add(1)
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.errors.Add(1)
		return err
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.errors.Add(1)
		return err
	}
	return nil
}

// InvalidatePrefix walks matching keys with SCAN so it stays safe on large
// keyspaces, deleting in batches.
func (r *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.client.Del(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				r.errors.Add(1)
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		r.errors.Add(1)
		return removed, err
	}
	if err := flush(); err != nil {
		r.errors.Add(1)
		return removed, err
	}
	return removed, nil
}

func (r *RedisCache) Stats() Stats { return r.snapshot() }
