package agent

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	a := CacheKey("list all products")
	if a != CacheKey("list all products") {
		t.Fatal("cache key must be deterministic")
	}
	if a == CacheKey("list all batches") {
		t.Fatal("different questions must not share a key")
	}
	if !strings.HasPrefix(a, cacheKeyPrefix) || len(a) != len(cacheKeyPrefix)+64 {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok, _ := c.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryCacheNoTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry without ttl must not expire")
	}
}

// TestRedisCache runs against a live server when REDIS_TEST_URL is set.
func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	key := CacheKey("redis cache test " + time.Now().String())
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, key, []byte(`{"kind":"rows"}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != `{"kind":"rows"}` {
		t.Fatalf("expected hit, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestNewRedisCacheBadURL(t *testing.T) {
	if _, err := NewRedisCache(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
