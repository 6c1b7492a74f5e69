package cache

import (
	"testing"
	"time"
)

func TestTTLCacheGetSet(t *testing.T) {
	c := New[string, int](time.Minute, 0)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unset key")
	}

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	c := New[string, string](10*time.Millisecond, 0)
	c.Set("k", "v")

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestTTLCacheSweep(t *testing.T) {
	c := New[string, string](10*time.Millisecond, 0)
	c.Set("k1", "v1")
	c.Set("k2", "v2")

	time.Sleep(20 * time.Millisecond)

	removed := c.Sweep()
	if removed != 2 {
		t.Errorf("Sweep() removed = %d, want 2", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestTTLCacheLRUEviction(t *testing.T) {
	c := New[string, int](time.Minute, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts "a", the least recently touched

	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted once capacity exceeded")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to remain")
	}
}

func TestTTLCacheDeleteAndClear(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be deleted")
	}

	c.Set("b", 2)
	c.Set("c", 3)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
}

func TestTTLCacheSetTTLOverride(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	c.SetTTL("short", 1, 5*time.Millisecond)

	time.Sleep(15 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expected short-TTL override to expire independently of default TTL")
	}
}
