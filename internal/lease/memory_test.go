package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryLeaserMutualExclusion(t *testing.T) {
	leaser := NewMemoryLeaser()
	ctx := context.Background()

	first, err := leaser.Acquire(ctx, "asset-1", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: got %v, want ErrHeld", err)
	}
	// a different asset is unaffected
	if _, err := leaser.Acquire(ctx, "asset-2", time.Minute); err != nil {
		t.Fatalf("other asset acquire: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestMemoryLeaserExpiry(t *testing.T) {
	leaser := NewMemoryLeaser()
	now := time.Now()
	leaser.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("mid-ttl acquire: got %v, want ErrHeld", err)
	}
	now = now.Add(31 * time.Second)
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); err != nil {
		t.Fatalf("post-expiry acquire: %v", err)
	}
}

func TestMemoryLeaseStaleReleaseKeepsNewHolder(t *testing.T) {
	leaser := NewMemoryLeaser()
	now := time.Now()
	leaser.clock = func() time.Time { return now }
	ctx := context.Background()

	stale, err := leaser.Acquire(ctx, "asset-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Minute)
	fresh, err := leaser.Acquire(ctx, "asset-1", time.Minute)
	if err != nil {
		t.Fatalf("reacquire after expiry: %v", err)
	}

	// releasing the expired lease must not evict the new holder
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("new holder lost its lease: %v", err)
	}
	if err := fresh.Release(ctx); err != nil {
		t.Fatalf("fresh release: %v", err)
	}
}
