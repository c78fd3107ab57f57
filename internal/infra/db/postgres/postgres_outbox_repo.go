package postgres

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v4/pgxpool"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
)

var _ repository.OutboxRepository = (*outboxRepo)(nil)

const maxOutboxErrorBytes = 2000

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type outboxRepo struct{ pool *pgxpool.Pool }

func NewOutboxRepo(pool *pgxpool.Pool) *outboxRepo {
	return &outboxRepo{pool: pool}
}

// Enqueue must run in the same transaction as the state change it announces.
func (r *outboxRepo) Enqueue(ctx context.Context, tx repository.Tx, msg *model.OutboxMessage) error {
	const q = `
INSERT INTO event_outbox (id, exchange, routing_key, payload, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5);`
	_, err := execSQL(ctx, r.pool, tx, q, msg.ID, msg.Exchange, msg.RoutingKey, string(msg.Payload), msg.CreatedAt)
	return mapWriteErr(err)
}

// Claim marks up to limit due messages as processing. Messages stuck in
// processing for longer than staleAfter are reclaimed.
func (r *outboxRepo) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	stale := int(staleAfter / time.Second)
	if stale <= 0 {
		stale = 120
	}
	const q = `
WITH candidates AS (
	SELECT id
	  FROM event_outbox
	 WHERE (status = 'pending' AND next_attempt_at <= NOW())
	    OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
	 ORDER BY created_at
	 LIMIT $1
	 FOR UPDATE SKIP LOCKED
)
UPDATE event_outbox AS o
   SET status = 'processing',
       processing_started_at = NOW(),
       attempts = o.attempts + 1
  FROM candidates
 WHERE o.id = candidates.id
RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts, o.created_at;`

	rows, err := queryRows(ctx, r.pool, nil, q, limit, stale)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make([]model.OutboxMessage, 0, limit)
	for rows.Next() {
		var m model.OutboxMessage
		var payload string
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		m.Payload = []byte(payload)
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, id string) error {
	const q = `
UPDATE event_outbox
   SET status = 'published',
       published_at = NOW(),
       processing_started_at = NULL,
       last_error = NULL
 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id)
	return mapWriteErr(err)
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	reason = truncateUTF8(reason, maxOutboxErrorBytes)
	const q = `
UPDATE event_outbox
   SET status = 'pending',
       next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
       processing_started_at = NULL,
       last_error = $3
 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, nil, q, id, secs, reason)
	return mapWriteErr(err)
}
