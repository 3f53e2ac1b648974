package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const receiveCountHeader = "x-receive-count"

// RabbitAdapter is the distributed queue transport over AMQP. It declares a
// main queue, a retry queue whose per-message TTL dead-letters back into the
// main queue (which implements delayed requeue), and a dead-letter queue.
// Lease exclusivity relies on the broker's unacked-delivery semantics with
// prefetch 1.
type RabbitAdapter struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	mainQ  string
	retryQ string
	dlqQ   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	leased     map[string]amqp.Delivery
}

// NewRabbitAdapter dials the broker and declares the queue topology.
func NewRabbitAdapter(url, queueName string) (*RabbitAdapter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "channel", Err: err}
	}

	a := &RabbitAdapter{
		conn:   conn,
		ch:     ch,
		mainQ:  queueName,
		retryQ: queueName + ".retry",
		dlqQ:   queueName + ".dlq",
		leased: make(map[string]amqp.Delivery),
	}

	if err := a.declareTopology(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, &TransportError{Op: "qos", Err: err}
	}

	deliveries, err := ch.Consume(a.mainQ, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, &TransportError{Op: "consume", Err: err}
	}
	a.deliveries = deliveries

	return a, nil
}

func (a *RabbitAdapter) declareTopology() error {
	// DLQ first; no special arguments.
	if _, err := a.ch.QueueDeclare(a.dlqQ, true, false, false, false, nil); err != nil {
		return &TransportError{Op: "declare dlq", Err: err}
	}

	// Retry queue: per-message TTL expiry dead-letters back to the main queue.
	if _, err := a.ch.QueueDeclare(a.retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": a.mainQ,
	}); err != nil {
		return &TransportError{Op: "declare retry queue", Err: err}
	}

	if _, err := a.ch.QueueDeclare(a.mainQ, true, false, false, false, nil); err != nil {
		return &TransportError{Op: "declare main queue", Err: err}
	}
	return nil
}

func (a *RabbitAdapter) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table, expiration string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return a.ch.PublishWithContext(pctx,
		"", // default exchange
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Body:         body,
			Headers:      headers,
			Expiration:   expiration,
			Timestamp:    time.Now(),
		},
	)
}

func (a *RabbitAdapter) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	a.mu.Lock()
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.ch.PublishWithContext(pctx, "", a.mainQ, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Body:         body,
		Headers:      amqp.Table{receiveCountHeader: int32(0)},
		Timestamp:    time.Now(),
	})
	cancel()
	a.mu.Unlock()
	if err != nil {
		return "", &TransportError{Op: "enqueue", Err: err}
	}
	return id, nil
}

// Poll performs a non-blocking receive on the consumer channel. The broker
// holds the delivery unacked until Ack/Requeue/DeadLetter resolves it.
func (a *RabbitAdapter) Poll(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-a.deliveries:
		if !ok {
			return nil, &TransportError{Op: "poll", Err: fmt.Errorf("delivery channel closed")}
		}
		receipt := uuid.NewString()

		a.mu.Lock()
		a.leased[receipt] = d
		a.mu.Unlock()

		return &Message{
			ID:            d.MessageId,
			ReceiptHandle: receipt,
			Body:          d.Body,
			Attempts:      headerReceiveCount(d) + 1,
		}, nil
	default:
		return nil, nil
	}
}

func headerReceiveCount(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[receiveCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func (a *RabbitAdapter) takeLease(receipt string) (amqp.Delivery, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.leased[receipt]
	if ok {
		delete(a.leased, receipt)
	}
	return d, ok
}

func (a *RabbitAdapter) Ack(ctx context.Context, msg *Message) error {
	d, ok := a.takeLease(msg.ReceiptHandle)
	if !ok {
		// Already resolved; acking twice is a no-op.
		return nil
	}
	if err := d.Ack(false); err != nil {
		return &TransportError{Op: "ack", Err: err}
	}
	return nil
}

// Requeue publishes a copy into the retry queue with the delay as a
// per-message TTL (expiry routes it back to the main queue), then acks the
// original so the broker releases the unacked delivery.
func (a *RabbitAdapter) Requeue(ctx context.Context, msg *Message, delay time.Duration) error {
	d, ok := a.takeLease(msg.ReceiptHandle)
	if !ok {
		return &TransportError{Op: "requeue", Err: fmt.Errorf("lease %s no longer valid", msg.ReceiptHandle)}
	}

	headers := amqp.Table{receiveCountHeader: int32(headerReceiveCount(d) + 1)}
	expiration := strconv.FormatInt(delay.Milliseconds(), 10)
	if err := a.publish(ctx, a.retryQ, d.Body, headers, expiration); err != nil {
		// Publish failed; leave the delivery unacked so the broker redelivers.
		a.mu.Lock()
		a.leased[msg.ReceiptHandle] = d
		a.mu.Unlock()
		return &TransportError{Op: "requeue", Err: err}
	}
	if err := d.Ack(false); err != nil {
		return &TransportError{Op: "requeue", Err: err}
	}
	return nil
}

func (a *RabbitAdapter) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	d, ok := a.takeLease(msg.ReceiptHandle)
	if !ok {
		return &TransportError{Op: "dead-letter", Err: fmt.Errorf("lease %s no longer valid", msg.ReceiptHandle)}
	}

	headers := amqp.Table{
		receiveCountHeader:     int32(headerReceiveCount(d)),
		"x-dead-letter-reason": reason,
		"x-dead-lettered-at":   time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.publish(ctx, a.dlqQ, d.Body, headers, ""); err != nil {
		a.mu.Lock()
		a.leased[msg.ReceiptHandle] = d
		a.mu.Unlock()
		return &TransportError{Op: "dead-letter", Err: err}
	}
	if err := d.Ack(false); err != nil {
		return &TransportError{Op: "dead-letter", Err: err}
	}
	return nil
}

func (a *RabbitAdapter) Healthcheck(ctx context.Context) Health {
	if a.conn.IsClosed() {
		return Health{Mode: "rabbitmq", OK: false, Detail: "connection closed"}
	}
	a.mu.Lock()
	_, err := a.ch.QueueDeclarePassive(a.mainQ, true, false, false, false, nil)
	a.mu.Unlock()
	if err != nil {
		return Health{Mode: "rabbitmq", OK: false, Detail: err.Error()}
	}
	return Health{Mode: "rabbitmq", OK: true}
}

// Stats reports ready counts from the broker. The broker does not expose the
// age of the oldest message, so OldestVisible stays zero.
func (a *RabbitAdapter) Stats(ctx context.Context) (*Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mainQ, err := a.ch.QueueDeclarePassive(a.mainQ, true, false, false, false, nil)
	if err != nil {
		return nil, &TransportError{Op: "stats", Err: err}
	}
	dlq, err := a.ch.QueueDeclarePassive(a.dlqQ, true, false, false, false, nil)
	if err != nil {
		return nil, &TransportError{Op: "stats", Err: err}
	}

	return &Stats{
		Depth:       mainQ.Messages,
		InFlight:    len(a.leased),
		DeadLetters: dlq.Messages,
	}, nil
}

func (a *RabbitAdapter) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

var _ Adapter = (*RabbitAdapter)(nil)
