// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisCache(t *testing.T) *RedisCache[string] {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache[string](client, "test", time.Minute)
}

func TestRedisCache_GetSetMiss(t *testing.T) {
	c := newTestRedisCache(t)

	if _, ok := c.Get("x"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("x", "hello")
	v, ok := c.Get("x")
	if !ok || v != "hello" {
		t.Errorf("Get(x) = (%q, %v), want (hello, true)", v, ok)
	}
}

func TestRedisCache_Invalidate(t *testing.T) {
	c := newTestRedisCache(t)
	c.Set("a", "1")
	c.Set("b", "2")

	c.Invalidate("a")

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss for invalidated key")
	}
	if v, ok := c.Get("b"); !ok || v != "2" {
		t.Error("expected untouched key to remain")
	}
}

func TestRedisCache_InvalidateAll(t *testing.T) {
	c := newTestRedisCache(t)
	c.Set("a", "1")
	c.Set("b", "2")

	c.InvalidateAll()

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after InvalidateAll")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected miss after InvalidateAll")
	}
}

func TestRedisCache_Namespacing(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedisCache[string](client, "ns-a", time.Minute)
	b := NewRedisCache[string](client, "ns-b", time.Minute)

	a.Set("shared-key", "from-a")
	b.Set("shared-key", "from-b")

	va, _ := a.Get("shared-key")
	vb, _ := b.Get("shared-key")
	if va != "from-a" || vb != "from-b" {
		t.Errorf("expected prefix isolation, got a=%q b=%q", va, vb)
	}

	a.InvalidateAll()
	if _, ok := a.Get("shared-key"); ok {
		t.Error("expected ns-a key gone after its InvalidateAll")
	}
	if _, ok := b.Get("shared-key"); !ok {
		t.Error("expected ns-b key untouched by ns-a's InvalidateAll")
	}
}

func TestRedisCache_SatisfiesStoreInterface(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	var _ Store[string] = NewRedisCache[string](client, "x", time.Minute)
}

func TestNewFromEnv_DefaultsToProcessLocal(t *testing.T) {
	os.Unsetenv("CACHE_BACKEND")
	s := NewFromEnv[string]("p", time.Minute)
	if _, ok := s.(*Cache[string]); !ok {
		t.Errorf("expected process-local Cache[string] when CACHE_BACKEND unset, got %T", s)
	}
}

func TestNewFromEnv_RedisSelectedButUnreachableFallsBack(t *testing.T) {
	os.Setenv("CACHE_BACKEND", "redis")
	os.Setenv("REDIS_ADDR", "127.0.0.1:1")
	defer os.Unsetenv("CACHE_BACKEND")
	defer os.Unsetenv("REDIS_ADDR")

	s := NewFromEnv[string]("p", time.Minute)
	if _, ok := s.(*Cache[string]); !ok {
		t.Errorf("expected fallback to process-local Cache[string] on unreachable redis, got %T", s)
	}
}

func TestNewFromEnv_RedisSelectedAndReachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	os.Setenv("CACHE_BACKEND", "redis")
	os.Setenv("REDIS_ADDR", mr.Addr())
	defer os.Unsetenv("CACHE_BACKEND")
	defer os.Unsetenv("REDIS_ADDR")

	s := NewFromEnv[string]("p", time.Minute)
	if _, ok := s.(*RedisCache[string]); !ok {
		t.Errorf("expected RedisCache[string] when redis is reachable, got %T", s)
	}
}
