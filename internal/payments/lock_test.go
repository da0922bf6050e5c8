package payments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "k-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, "k-1", time.Minute); ok {
		t.Fatal("second Acquire succeeded while held")
	}
	if _, ok, _ := l.Acquire(ctx, "k-2", time.Minute); !ok {
		t.Fatal("other key blocked")
	}
	release()
	if _, ok, _ := l.Acquire(ctx, "k-1", time.Minute); !ok {
		t.Fatal("Acquire after release failed")
	}
}

func TestRedisLockerExpiredLockNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client)
	ctx := context.Background()

	release, ok, _ := l.Acquire(ctx, "k-1", time.Second)
	if !ok {
		t.Fatal("Acquire failed")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := l.Acquire(ctx, "k-1", time.Minute); !ok {
		t.Fatal("Acquire after expiry failed")
	}
	release()
	if !mr.Exists(lockPrefix + "k-1") {
		t.Fatal("stale release removed the new holder's lock")
	}
}
