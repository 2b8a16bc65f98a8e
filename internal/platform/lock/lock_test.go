package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocal_Exclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	lease, ok, err := l.TryAcquire(ctx, "sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	if _, ok, _ := l.TryAcquire(ctx, "sweep", time.Minute); ok {
		t.Fatal("expected second acquire to fail while held")
	}
	if _, ok, _ := l.TryAcquire(ctx, "other", time.Minute); !ok {
		t.Fatal("expected independent key to be free")
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if _, ok, _ := l.TryAcquire(ctx, "sweep", time.Minute); !ok {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestLocal_Expiry(t *testing.T) {
	l := NewLocal()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, _ := l.TryAcquire(ctx, "sweep", time.Minute)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := l.TryAcquire(ctx, "sweep", time.Minute); !ok {
		t.Fatal("expected expired lease to be taken over")
	}

	if err := stale.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld releasing a taken-over lease, got %v", err)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url", "booking:"); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestNewToken_Unique(t *testing.T) {
	a, err := newToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := newToken()
	if a == b {
		t.Error("expected distinct tokens")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
}
