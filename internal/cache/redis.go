// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a Store[T] backed by a shared Redis instance, for
// deployments running more than one orchestration-core process that need a
// coherent Classifier/Predictor cache across instances rather than each
// process warming its own. Values are JSON-encoded; keys are namespaced
// under prefix so unrelated caches can share one Redis database.
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an already-connected client.
func NewRedisCache[T any](client *redis.Client, prefix string, ttl time.Duration) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache[T]) key(k string) string {
	return c.prefix + ":" + k
}

// Get returns the cached value, decoding it from JSON. A Redis error or
// malformed payload is treated as a miss, same as TTL expiry.
func (c *RedisCache[T]) Get(key string) (T, bool) {
	var zero T
	raw, err := c.client.Get(context.Background(), c.key(key)).Bytes()
	if err != nil {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Set stores value under key with the cache's configured TTL (0 means no
// expiry, matching Cache[T]'s semantics).
func (c *RedisCache[T]) Set(key string, value T) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(context.Background(), c.key(key), raw, c.ttl)
}

// Invalidate removes a single key.
func (c *RedisCache[T]) Invalidate(key string) {
	c.client.Del(context.Background(), c.key(key))
}

// InvalidateAll scans and removes every key under this cache's prefix.
// Unlike the process-local Cache[T], this is an O(n) SCAN against Redis and
// is meant for the Configuration Store's infrequent explicit Reload(), not
// a hot path.
func (c *RedisCache[T]) InvalidateAll() {
	ctx := context.Background()
	var cursor uint64
	pattern := c.prefix + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			c.client.Del(ctx, keys...)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

// NewFromEnv selects the cache backend for prefix via the CACHE_BACKEND env
// var ("redis" or unset/anything else for the process-local default),
// connecting to REDIS_ADDR (default "localhost:6379") when redis is
// selected. A Redis connection that fails to ping falls back to the
// process-local cache rather than failing construction, since every cache
// in this package is an optimization, never a correctness dependency.
func NewFromEnv[T any](prefix string, ttl time.Duration) Store[T] {
	if os.Getenv("CACHE_BACKEND") != "redis" {
		return New[T](ttl)
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return New[T](ttl)
	}

	return NewRedisCache[T](client, prefix, ttl)
}
