package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"videoflix/internal/testsupport/redisstub"
)

func newStubLeaser(t *testing.T) *RedisLeaser {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	client := redis.NewClient(&redis.Options{Addr: stub.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLeaser(client)
}

func TestRedisLeaserMutualExclusion(t *testing.T) {
	leaser := newStubLeaser(t)
	ctx := context.Background()

	held, err := leaser.Acquire(ctx, "asset-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: got %v, want ErrHeld", err)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRedisLeaserExpiry(t *testing.T) {
	leaser := newStubLeaser(t)
	ctx := context.Background()

	if _, err := leaser.Acquire(ctx, "asset-1", 50*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := leaser.Acquire(ctx, "asset-1", time.Minute)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrHeld) {
			t.Fatalf("acquire: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("lease never expired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRedisLeaseReleaseIsScopedToHolder(t *testing.T) {
	leaser := newStubLeaser(t)
	ctx := context.Background()

	stale, err := leaser.Acquire(ctx, "asset-1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); err != nil {
		t.Fatalf("reacquire after expiry: %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, err := leaser.Acquire(ctx, "asset-1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("new holder lost its lease: %v", err)
	}
}
