// Package queue provides a durable, at-least-once message channel with a
// primary queue and a dead-letter queue. Two transports implement the same
// contract: an embedded adapter over a transactional postgres table and a
// distributed adapter over RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransport marks adapter-level failures reaching the underlying
// transport. Match with errors.Is.
var ErrTransport = errors.New("queue transport error")

// TransportError wraps a transport failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("queue %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Message is a leased queue message. The receipt handle proves exclusive
// ownership until Ack, Requeue, or DeadLetter is called.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	// Attempts is the receive count after the poll that returned this message.
	Attempts int
}

// Stats is a point-in-time snapshot of queue state, used by the
// operational monitor. OldestVisible is zero when the queue is empty.
type Stats struct {
	Depth         int
	InFlight      int
	DeadLetters   int
	OldestVisible time.Time
}

// Health describes the result of a liveness probe against the transport.
type Health struct {
	Mode   string `json:"mode"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Adapter is the transport abstraction over the durable message channel.
// Both implementations satisfy it identically; the variant is selected by
// configuration at process start.
type Adapter interface {
	// Enqueue appends a new primary-queue message. It never blocks on
	// downstream processing.
	Enqueue(ctx context.Context, body []byte) (messageID string, err error)

	// Poll atomically claims at most one visible primary-queue message and
	// returns it leased. It returns (nil, nil) when nothing is visible;
	// callers must wait before polling again rather than busy-spin.
	Poll(ctx context.Context) (*Message, error)

	// Ack permanently removes a leased message. Acking twice is a no-op.
	Ack(ctx context.Context, msg *Message) error

	// Requeue releases the lease and makes the message visible again no
	// earlier than now + delay.
	Requeue(ctx context.Context, msg *Message, delay time.Duration) error

	// DeadLetter copies the message into the dead-letter queue annotated
	// with reason, then acks the original.
	DeadLetter(ctx context.Context, msg *Message, reason string) error

	// Healthcheck is a cheap liveness probe, for readiness checks only.
	Healthcheck(ctx context.Context) Health

	// Stats reports queue depth, in-flight count, dead-letter depth, and
	// the age of the oldest visible message.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
