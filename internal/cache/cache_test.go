package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKeyed_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	fetches := 0
	c := NewKeyed(time.Minute, func(ctx context.Context, key string) (int, error) {
		fetches++
		return 42, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v, err := c.Get(ctx, "learner-1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if v != 42 {
			t.Fatalf("Get() = %d, want 42", v)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}
}

func TestKeyed_RefetchesAfterTTL(t *testing.T) {
	t.Parallel()

	fetches := 0
	c := NewKeyed(time.Minute, func(ctx context.Context, key string) (int, error) {
		fetches++
		return fetches, nil
	})

	now := time.Now()
	c.now = func() time.Time { return now }

	ctx := context.Background()
	if v, _ := c.Get(ctx, "k"); v != 1 {
		t.Fatalf("first Get() = %d, want 1", v)
	}

	now = now.Add(2 * time.Minute)
	if v, _ := c.Get(ctx, "k"); v != 2 {
		t.Fatalf("Get() after TTL = %d, want 2", v)
	}
}

func TestKeyed_Invalidate(t *testing.T) {
	t.Parallel()

	fetches := 0
	c := NewKeyed(time.Hour, func(ctx context.Context, key string) (int, error) {
		fetches++
		return fetches, nil
	})

	ctx := context.Background()
	_, _ = c.Get(ctx, "k")
	c.Invalidate("k")
	if v, _ := c.Get(ctx, "k"); v != 2 {
		t.Fatalf("Get() after Invalidate = %d, want 2", v)
	}
}

func TestKeyed_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	c := NewKeyed(time.Hour, func(ctx context.Context, key string) (string, error) {
		return "v:" + key, nil
	})

	ctx := context.Background()
	a, _ := c.Get(ctx, "a")
	b, _ := c.Get(ctx, "b")
	if a != "v:a" || b != "v:b" {
		t.Errorf("Get() = (%q, %q), want (v:a, v:b)", a, b)
	}
}

func TestKeyed_FetchErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("store down")
	c := NewKeyed(time.Hour, func(ctx context.Context, key string) (int, error) {
		return 0, boom
	})

	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, boom) {
		t.Fatalf("Get() error = %v, want store error", err)
	}
}
