package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InProc is a [Queue] that dispatches jobs on goroutines within the same
// process. It preserves the at-least-once contract's caller-visible shape
// (asynchronous processing, idempotent handlers still required) but makes a
// single delivery attempt. Used for single-node deployments and tests.
type InProc struct {
	log *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	closed   bool

	wg sync.WaitGroup
}

var _ Queue = (*InProc)(nil)

// NewInProc creates an in-process queue.
func NewInProc(log *slog.Logger) *InProc {
	if log == nil {
		log = slog.Default()
	}
	return &InProc{
		log:      log,
		handlers: make(map[string]Handler),
	}
}

// Enqueue implements [Queue]. Returns [ErrNoProcessor] when nothing is
// registered for the topic.
func (q *InProc) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue: enqueue %s: queue closed", topic)
	}
	h, ok := q.handlers[topic]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("queue: enqueue %s: %w", topic, ErrNoProcessor)
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				q.log.Error("job handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := h(context.Background(), payload); err != nil {
			q.log.Warn("job failed", "topic", topic, "error", err)
		}
	}()
	return nil
}

// RegisterProcessor implements [Queue].
func (q *InProc) RegisterProcessor(topic string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[topic]; exists {
		return fmt.Errorf("queue: processor already registered for %s", topic)
	}
	q.handlers[topic] = h
	return nil
}

// Close implements [Queue]. Blocks until in-flight jobs finish.
func (q *InProc) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
