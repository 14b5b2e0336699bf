// Package queue decouples round submission from round analysis.
//
// Jobs are delivered at least once; processors must be idempotent. The
// NATS-backed implementation is the production path, with an in-process
// fallback for single-node deployments and tests.
package queue

import (
	"context"
	"errors"
)

// ErrNoProcessor is returned by Enqueue when no processor is registered for
// the topic. Callers may fall back to processing inline.
var ErrNoProcessor = errors.New("queue: no processor registered for topic")

// Handler processes one job payload. A nil return acknowledges the job; a
// non-nil return requests redelivery, up to the implementation's redelivery
// limit.
type Handler func(ctx context.Context, payload []byte) error

// Options control delivery of a single job.
type Options struct {
	// Priority orders competing jobs; higher is sooner. Advisory — a queue
	// implementation may ignore it.
	Priority int

	// Attempts is the desired maximum number of delivery attempts before the
	// job is dropped. Advisory, like Priority: the NATS implementation caps
	// redelivery per consumer rather than per job, and the in-process queue
	// delivers each job exactly once.
	Attempts int
}

// Queue enqueues jobs and dispatches them to registered processors.
type Queue interface {
	// Enqueue submits a job for asynchronous processing.
	Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error

	// RegisterProcessor binds a handler to a topic. Must be called before
	// jobs on that topic are enqueued; a second registration for the same
	// topic is an error.
	RegisterProcessor(topic string, h Handler) error

	// Close stops dispatching and releases resources. Queued in-process jobs
	// are drained before returning.
	Close() error
}
