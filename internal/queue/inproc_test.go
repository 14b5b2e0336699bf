package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestInProc_DispatchesToRegisteredHandler(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)

	var (
		mu       sync.Mutex
		payloads [][]byte
	)
	err := q.RegisterProcessor("practice.test", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterProcessor() error: %v", err)
	}

	if err := q.Enqueue(context.Background(), "practice.test", []byte("job-1"), Options{}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 1 || string(payloads[0]) != "job-1" {
		t.Errorf("payloads = %q, want [job-1]", payloads)
	}
}

func TestInProc_FailingJobDeliveredOnce(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)

	var (
		mu         sync.Mutex
		deliveries int
	)
	_ = q.RegisterProcessor("practice.test", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		deliveries++
		mu.Unlock()
		return errors.New("handler failed")
	})

	// Attempts is advisory; the in-process queue never redelivers.
	if err := q.Enqueue(context.Background(), "practice.test", []byte("job-1"), Options{Attempts: 5}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if deliveries != 1 {
		t.Errorf("deliveries = %d, want exactly 1", deliveries)
	}
}

func TestInProc_EnqueueWithoutProcessor(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)
	err := q.Enqueue(context.Background(), "practice.unbound", nil, Options{})
	if !errors.Is(err, ErrNoProcessor) {
		t.Fatalf("Enqueue() error = %v, want ErrNoProcessor", err)
	}
}

func TestInProc_DuplicateRegistrationRejected(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)
	noop := func(ctx context.Context, payload []byte) error { return nil }
	if err := q.RegisterProcessor("practice.test", noop); err != nil {
		t.Fatalf("first RegisterProcessor() error: %v", err)
	}
	if err := q.RegisterProcessor("practice.test", noop); err == nil {
		t.Fatal("second RegisterProcessor() succeeded, want error")
	}
}

func TestInProc_EnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)
	_ = q.RegisterProcessor("practice.test", func(ctx context.Context, payload []byte) error { return nil })
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := q.Enqueue(context.Background(), "practice.test", nil, Options{}); err == nil {
		t.Fatal("Enqueue() after Close succeeded, want error")
	}
}

func TestInProc_HandlerPanicDoesNotCrash(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)
	_ = q.RegisterProcessor("practice.test", func(ctx context.Context, payload []byte) error {
		panic("boom")
	})
	if err := q.Enqueue(context.Background(), "practice.test", nil, Options{}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestInProc_CloseWaitsForInflightJobs(t *testing.T) {
	t.Parallel()

	q := NewInProc(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	done := false
	var mu sync.Mutex

	_ = q.RegisterProcessor("practice.test", func(ctx context.Context, payload []byte) error {
		close(started)
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	})

	_ = q.Enqueue(context.Background(), "practice.test", nil, Options{})
	<-started
	close(release)
	_ = q.Close()

	mu.Lock()
	defer mu.Unlock()
	if !done {
		t.Error("Close() returned before the in-flight job finished")
	}
}
