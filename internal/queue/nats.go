package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// streamName is the JetStream stream holding all practice jobs.
	streamName = "PRACTICE"

	// subjectPrefix scopes this engine's subjects within the stream.
	subjectPrefix = "practice.>"

	// headerPriority carries the advisory job priority.
	headerPriority = "Parlano-Priority"

	// defaultAttempts caps redelivery at the consumer level. Per-job
	// Options.Attempts is advisory and does not override it.
	defaultAttempts = 3

	// ackWait is how long a processor may hold a job before redelivery.
	ackWait = 5 * time.Minute
)

// NATSQueue is a [Queue] backed by NATS JetStream. Each topic maps to one
// subject and one durable queue consumer, so multiple engine instances share
// the work.
type NATSQueue struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

var _ Queue = (*NATSQueue)(nil)

// ConnectNATS connects to the given NATS servers and ensures the practice
// stream exists.
func ConnectNATS(ctx context.Context, servers []string, log *slog.Logger) (*NATSQueue, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("queue: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}

	url := strings.Join(servers, ",")
	conn, err := nats.Connect(url,
		nats.Name("parlano"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: create jetstream context: %w", err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix},
		Retention: nats.WorkQueuePolicy,
	}); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("queue: ensure stream: %w", err)
	}

	log.Info("connected to NATS", "servers", url, "stream", streamName)

	return &NATSQueue{
		conn: conn,
		js:   js,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Enqueue implements [Queue].
func (q *NATSQueue) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	msg := nats.NewMsg(topic)
	msg.Data = payload
	if opts.Priority != 0 {
		msg.Header.Set(headerPriority, strconv.Itoa(opts.Priority))
	}
	if _, err := q.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("queue: publish %s: %w", topic, err)
	}
	return nil
}

// RegisterProcessor implements [Queue]. The durable consumer name is derived
// from the topic, so redeliveries survive restarts.
func (q *NATSQueue) RegisterProcessor(topic string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.subs[topic]; exists {
		return fmt.Errorf("queue: processor already registered for %s", topic)
	}

	durable := strings.ReplaceAll(topic, ".", "-")
	sub, err := q.js.QueueSubscribe(topic, durable, func(msg *nats.Msg) {
		q.dispatch(msg, h)
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(defaultAttempts),
	)
	if err != nil {
		return fmt.Errorf("queue: subscribe %s: %w", topic, err)
	}

	q.subs[topic] = sub
	return nil
}

// dispatch runs one delivery through the handler and acks or naks it.
func (q *NATSQueue) dispatch(msg *nats.Msg, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job handler panicked", "subject", msg.Subject, "panic", r)
			_ = msg.Nak()
		}
	}()

	if err := h(context.Background(), msg.Data); err != nil {
		q.log.Warn("job failed, requesting redelivery", "subject", msg.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// Close implements [Queue].
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	for topic, sub := range q.subs {
		if err := sub.Drain(); err != nil {
			q.log.Warn("draining subscription", "topic", topic, "error", err)
		}
	}
	q.subs = make(map[string]*nats.Subscription)
	q.mu.Unlock()

	if err := q.conn.Drain(); err != nil {
		return fmt.Errorf("queue: drain connection: %w", err)
	}
	q.conn.Close()
	return nil
}

// Healthy reports whether the NATS connection is up.
func (q *NATSQueue) Healthy() bool {
	return q.conn != nil && q.conn.Status() == nats.CONNECTED
}
