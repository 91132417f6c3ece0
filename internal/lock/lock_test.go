package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/masahif/jobforge/internal/jobs"
)

// stageLocker matches both implementations.
type stageLocker interface {
	TryLock(ctx context.Context, name string) (func(context.Context) error, error)
}

func exerciseLocker(t *testing.T, l stageLocker, name string) {
	t.Helper()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, name)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	if _, err := l.TryLock(ctx, name); !errors.Is(err, jobs.ErrStageBusy) {
		t.Errorf("second TryLock: expected ErrStageBusy, got %v", err)
	}

	other, err := l.TryLock(ctx, name+"-other")
	if err != nil {
		t.Errorf("independent name should lock: %v", err)
	} else {
		_ = other(ctx)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	again, err := l.TryLock(ctx, name)
	if err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	_ = again(ctx)
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "clean")
}

func TestLocalUnlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	unlock, err := l.TryLock(ctx, "transfer")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	_ = unlock(ctx)

	second, err := l.TryLock(ctx, "transfer")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	// a stale unlock must not free the new holder
	_ = unlock(ctx)
	if _, err := l.TryLock(ctx, "transfer"); !errors.Is(err, jobs.ErrStageBusy) {
		t.Errorf("expected lock to remain held, got %v", err)
	}
	_ = second(ctx)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("JF_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JF_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := DialRedis(ctx, url, 5*time.Second)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer func() { _ = l.Close() }()

	exerciseLocker(t, l, "test-"+time.Now().Format("150405.000000"))
}

func TestDialRedisBadURL(t *testing.T) {
	if _, err := DialRedis(context.Background(), "not a url", time.Second); err == nil {
		t.Error("expected error for malformed redis url")
	}
}
