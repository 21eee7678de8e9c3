package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestMemoryAcquireRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	release, err := m.Acquire(ctx, "BTC", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "BTC", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if other, err := m.Acquire(ctx, "ETH", time.Minute); err != nil {
		t.Fatalf("expected independent key, got %v", err)
	} else {
		other()
	}
	release()
	release()
	again, err := m.Acquire(ctx, "BTC", time.Minute)
	if err != nil {
		t.Fatalf("expected reacquire after release, got %v", err)
	}
	again()
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	stale, err := m.Acquire(context.Background(), "BTC", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	fresh, err := m.Acquire(context.Background(), "BTC", time.Second)
	if err != nil {
		t.Fatalf("expected expired lock to be reclaimable, got %v", err)
	}
	// the expired holder must not release the new holder's lock
	stale()
	if _, err := m.Acquire(context.Background(), "BTC", time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected lock still held, got %v", err)
	}
	fresh()
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemory().Acquire(ctx, "BTC", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedisAcquireRelease(t *testing.T) {
	addr := os.Getenv("HL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()
	key := "test-" + time.Now().Format("150405.000000")
	release, err := r.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := r.Acquire(ctx, key, 10*time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	release()
	again, err := r.Acquire(ctx, key, 10*time.Second)
	if err != nil {
		t.Fatalf("expected reacquire, got %v", err)
	}
	again()
}
