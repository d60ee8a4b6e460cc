//go:build integration

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go-press/internal/config"
)

func setupCacheTest(t *testing.T) (*Cache, func()) {
	t.Helper()

	c, err := New(config.CacheConfig{FilePath: filepath.Join(t.TempDir(), "cache.db"), TTL: time.Minute})
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	return c, func() { c.Close() }
}

func TestCache_SetGetDelete(t *testing.T) {
	c, teardown := setupCacheTest(t)
	defer teardown()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want %q", got, "v")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := c.Get(ctx, "k"); got != nil {
		t.Errorf("expected miss after delete, got %q", got)
	}
}

func TestCache_MissIsNotAnError(t *testing.T) {
	c, teardown := setupCacheTest(t)
	defer teardown()

	got, err := c.Get(context.Background(), "absent")
	if err != nil || got != nil {
		t.Errorf("Get(absent) = %q, %v; want nil, nil", got, err)
	}
}

func TestCache_Expiry(t *testing.T) {
	c, teardown := setupCacheTest(t)
	defer teardown()
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "short", []byte("1"), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "long", []byte("2"), time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Second)
	if got, _ := c.Get(ctx, "short"); got != nil {
		t.Errorf("expected expired item to miss, got %q", got)
	}
	if got, _ := c.Get(ctx, "long"); string(got) != "2" {
		t.Errorf("long-lived item = %q, want %q", got, "2")
	}

	now = now.Add(2 * time.Hour)
	n, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestCache_SessionsTableExists(t *testing.T) {
	c, teardown := setupCacheTest(t)
	defer teardown()

	var n int
	if err := c.DB().QueryRow(`SELECT count(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatalf("sessions table missing: %v", err)
	}
}
