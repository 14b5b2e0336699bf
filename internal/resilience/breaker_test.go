package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failingBreaker(t *testing.T, tripAfter int, coolDown time.Duration) *Breaker {
	t.Helper()
	return NewBreaker(BreakerConfig{
		Name:      "test",
		TripAfter: tripAfter,
		CoolDown:  coolDown,
	})
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := failingBreaker(t, 3, time.Hour)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: error = %v, want backend error", i, err)
		}
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	t.Parallel()

	b := failingBreaker(t, 3, time.Hour)

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })

	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreaker_ProbeClosesAfterCoolDown(t *testing.T) {
	t.Parallel()

	b := failingBreaker(t, 1, 10*time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after probe = %v, want closed", got)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	b := failingBreaker(t, 1, 10*time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("error = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := failingBreaker(t, 1, time.Hour)
	_ = b.Do(func() error { return errBackend })
	b.Reset()

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("error after Reset: %v", err)
	}
}
