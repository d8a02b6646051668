// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero ExpiresAt never expires", time.Time{}, false},
		{"future ExpiresAt not expired", time.Now().Add(time.Hour), false},
		{"past ExpiresAt expired", time.Now().Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry[string]{Value: "v", ExpiresAt: tt.expiresAt}
			if got := e.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCache_GetSetMiss(t *testing.T) {
	c := New[int](time.Minute)

	if _, ok := c.Get("x"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("x", 42)
	v, ok := c.Get("x")
	if !ok || v != 42 {
		t.Errorf("Get(x) = (%v, %v), want (42, true)", v, ok)
	}
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := New[string](0)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Error("expected zero-TTL entry to remain cached")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New[string](10 * time.Millisecond)
	c.Set("k", "v")

	if _, ok := c.Get("k"); !ok {
		t.Error("expected immediate hit after set")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss for invalidated key")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected hit for untouched key")
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.InvalidateAll()

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after InvalidateAll")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected miss after InvalidateAll")
	}
}

func TestCache_Cleanup(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)

	if n := c.Cleanup(); n != 0 {
		t.Errorf("expected 0 evictions before expiry, got %d", n)
	}

	time.Sleep(20 * time.Millisecond)

	if n := c.Cleanup(); n != 2 {
		t.Errorf("expected 2 evictions after expiry, got %d", n)
	}
	if n := c.Cleanup(); n != 0 {
		t.Errorf("expected 0 evictions on second cleanup, got %d", n)
	}
}

func TestCache_StatsAndHitRate(t *testing.T) {
	c := New[int](time.Minute)

	if rate := c.HitRate(); rate != 0 {
		t.Errorf("expected 0%% hit rate with no requests, got %.2f", rate)
	}

	c.Get("missing")
	c.Set("k", 1)
	c.Get("k")
	c.Get("k")

	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want Hits=2 Misses=1", stats)
	}
	if rate := c.HitRate(); rate < 66 || rate > 67 {
		t.Errorf("HitRate() = %.2f, want ~66.67", rate)
	}
}

func TestCache_SatisfiesStoreInterface(t *testing.T) {
	var _ Store[int] = New[int](time.Minute)
}
