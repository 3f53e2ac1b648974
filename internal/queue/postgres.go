package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	statusQueued     = "queued"
	statusInProgress = "in_progress"
)

// PostgresAdapter is the embedded queue transport backed by the
// queue_messages table. Primary and dead-letter queues share the table,
// distinguished by queue_url. Visibility is gated on status='queued' and
// available_at <= now; a lease is a receipt handle set while claimed.
type PostgresAdapter struct {
	pool         *pgxpool.Pool
	primaryURL   string
	deadURL      string
	leaseTimeout time.Duration
}

// NewPostgresAdapter creates the embedded adapter. queueName namespaces the
// primary queue; its dead-letter queue is derived from it.
func NewPostgresAdapter(pool *pgxpool.Pool, queueName string, leaseTimeout time.Duration) *PostgresAdapter {
	return &PostgresAdapter{
		pool:         pool,
		primaryURL:   queueName,
		deadURL:      queueName + ".dlq",
		leaseTimeout: leaseTimeout,
	}
}

func (a *PostgresAdapter) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := uuid.New()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO queue_messages (id, queue_url, body, status, receive_count, available_at, created_at)
		 VALUES ($1, $2, $3, $4, 0, NOW(), NOW())`,
		id, a.primaryURL, body, statusQueued)
	if err != nil {
		return "", &TransportError{Op: "enqueue", Err: err}
	}
	return id.String(), nil
}

// Poll claims at most one visible message. The claim is a single UPDATE over
// a SKIP LOCKED subselect, so concurrent pollers never lease the same row.
func (a *PostgresAdapter) Poll(ctx context.Context) (*Message, error) {
	receipt := uuid.New()

	var (
		id       uuid.UUID
		body     []byte
		attempts int
	)
	err := a.pool.QueryRow(ctx,
		`UPDATE queue_messages
		 SET status = $1, receipt_handle = $2, receive_count = receive_count + 1, leased_at = NOW()
		 WHERE id = (
		   SELECT id FROM queue_messages
		   WHERE queue_url = $3 AND status = $4 AND available_at <= NOW()
		   ORDER BY available_at
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, body, receive_count`,
		statusInProgress, receipt, a.primaryURL, statusQueued,
	).Scan(&id, &body, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &TransportError{Op: "poll", Err: err}
	}

	return &Message{
		ID:            id.String(),
		ReceiptHandle: receipt.String(),
		Body:          body,
		Attempts:      attempts,
	}, nil
}

// Ack deletes the leased message. A message already acked (or dead-lettered)
// matches no row, which is a no-op rather than an error.
func (a *PostgresAdapter) Ack(ctx context.Context, msg *Message) error {
	_, err := a.pool.Exec(ctx,
		`DELETE FROM queue_messages WHERE id = $1 AND receipt_handle = $2`,
		msg.ID, msg.ReceiptHandle)
	if err != nil {
		return &TransportError{Op: "ack", Err: err}
	}
	return nil
}

func (a *PostgresAdapter) Requeue(ctx context.Context, msg *Message, delay time.Duration) error {
	tag, err := a.pool.Exec(ctx,
		`UPDATE queue_messages
		 SET status = $1, receipt_handle = NULL, leased_at = NULL,
		     available_at = NOW() + $2::interval
		 WHERE id = $3 AND receipt_handle = $4`,
		statusQueued, delay.String(), msg.ID, msg.ReceiptHandle)
	if err != nil {
		return &TransportError{Op: "requeue", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &TransportError{Op: "requeue", Err: fmt.Errorf("lease %s no longer valid", msg.ReceiptHandle)}
	}
	return nil
}

// DeadLetter copies the message into the dead-letter queue and removes the
// original, atomically in one transaction.
func (a *PostgresAdapter) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return &TransportError{Op: "dead-letter", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO queue_messages (id, queue_url, body, status, receive_count, available_at, last_error, dead_lettered_at, created_at)
		 SELECT $1, $2, body, $3, receive_count, NOW(), $4, NOW(), created_at
		 FROM queue_messages WHERE id = $5 AND receipt_handle = $6`,
		uuid.New(), a.deadURL, statusQueued, reason, msg.ID, msg.ReceiptHandle)
	if err != nil {
		return &TransportError{Op: "dead-letter", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &TransportError{Op: "dead-letter", Err: fmt.Errorf("lease %s no longer valid", msg.ReceiptHandle)}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM queue_messages WHERE id = $1 AND receipt_handle = $2`,
		msg.ID, msg.ReceiptHandle); err != nil {
		return &TransportError{Op: "dead-letter", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &TransportError{Op: "dead-letter", Err: err}
	}
	return nil
}

// ReclaimExpired returns messages whose lease outlived the configured lease
// timeout to the queue. It exists so a crashed worker cannot leave a message
// in_progress forever; the worker runs it on a ticker.
func (a *PostgresAdapter) ReclaimExpired(ctx context.Context) (int, error) {
	tag, err := a.pool.Exec(ctx,
		`UPDATE queue_messages
		 SET status = $1, receipt_handle = NULL, leased_at = NULL,
		     available_at = NOW(), last_error = 'lease expired'
		 WHERE queue_url = $2 AND status = $3 AND leased_at < NOW() - $4::interval`,
		statusQueued, a.primaryURL, statusInProgress, a.leaseTimeout.String())
	if err != nil {
		return 0, &TransportError{Op: "reclaim", Err: err}
	}
	return int(tag.RowsAffected()), nil
}

func (a *PostgresAdapter) Healthcheck(ctx context.Context) Health {
	if err := a.pool.Ping(ctx); err != nil {
		return Health{Mode: "postgres", OK: false, Detail: err.Error()}
	}
	return Health{Mode: "postgres", OK: true}
}

func (a *PostgresAdapter) Stats(ctx context.Context) (*Stats, error) {
	var (
		stats  Stats
		oldest *time.Time
	)
	err := a.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE queue_url = $1 AND status = $2 AND available_at <= NOW()),
		   COUNT(*) FILTER (WHERE queue_url = $1 AND status = $3),
		   COUNT(*) FILTER (WHERE queue_url = $4),
		   MIN(available_at) FILTER (WHERE queue_url = $1 AND status = $2 AND available_at <= NOW())
		 FROM queue_messages`,
		a.primaryURL, statusQueued, statusInProgress, a.deadURL,
	).Scan(&stats.Depth, &stats.InFlight, &stats.DeadLetters, &oldest)
	if err != nil {
		return nil, &TransportError{Op: "stats", Err: err}
	}
	if oldest != nil {
		stats.OldestVisible = *oldest
	}
	return &stats, nil
}

// Close is a no-op; the pool is owned by the caller.
func (a *PostgresAdapter) Close() error { return nil }

var _ Adapter = (*PostgresAdapter)(nil)
