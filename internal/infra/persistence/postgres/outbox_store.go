package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneysaga/engine/internal/domain/outboxstore"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting OutboxStore
// write through either a bare pool or a caller-owned transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore persists events awaiting delivery through the polling
// publisher. Enqueue writes through db, which is the pool for standalone use
// or a transaction obtained via WithTx so the outbox insert commits
// atomically with the domain mutation that produced it.
type OutboxStore struct {
	pool *pgxpool.Pool
	db   querier
}

// NewOutboxStore constructs an OutboxStore backed by pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool, db: pool}
}

// WithTx returns a copy of s whose Enqueue writes through tx instead of the
// pool. ListPending and MarkPublished always operate through the pool since
// they drive the independent polling loop, not a caller's transaction.
func (s *OutboxStore) WithTx(tx pgx.Tx) *OutboxStore {
	return &OutboxStore{pool: s.pool, db: tx}
}

const (
	defaultOutboxLimit = 128
	maxOutboxLimit     = 1024
	outboxClaimTTL     = "30 seconds"
)

const outboxInsertSQL = `
INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING id, aggregate_type, aggregate_id, event_type, payload, created_at, published_at;
`

const outboxSelectPendingSQL = `
SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, published_at
FROM outbox
WHERE published_at IS NULL
  AND (claimed_until IS NULL OR claimed_until < NOW())
ORDER BY id
FOR UPDATE SKIP LOCKED
LIMIT $1;
`

const outboxClaimSQL = `
UPDATE outbox SET claimed_until = NOW() + INTERVAL '` + outboxClaimTTL + `'
WHERE id = ANY($1);
`

const outboxMarkPublishedSQL = `
UPDATE outbox SET published_at = NOW(), claimed_until = NULL
WHERE id = ANY($1);
`

// Enqueue inserts a new event into the outbox.
func (s *OutboxStore) Enqueue(ctx context.Context, evt outboxstore.Event) (outboxstore.EventRecord, error) {
	aggregateType := strings.TrimSpace(evt.AggregateType)
	if aggregateType == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: aggregate type required")
	}
	aggregateID := strings.TrimSpace(evt.AggregateID)
	if aggregateID == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: aggregate id required")
	}
	eventType := strings.TrimSpace(evt.EventType)
	if eventType == "" {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: event type required")
	}
	payload, err := encodeJSON(evt.Payload)
	if err != nil {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: encode payload: %w", err)
	}
	row := s.db.QueryRow(ctx, outboxInsertSQL, aggregateType, aggregateID, eventType, payload)
	return scanOutboxRecord(row)
}

// ListPending claims up to limit undelivered events, marking them claimed
// for outboxClaimTTL so a concurrent poller does not pick up the same batch,
// and returns them for the publisher to deliver.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	if limit <= 0 {
		limit = defaultOutboxLimit
	} else if limit > maxOutboxLimit {
		limit = maxOutboxLimit
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, outboxSelectPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox store: list pending: %w", err)
	}
	var records []outboxstore.EventRecord
	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("outbox store: iterate pending: %w", err)
	}
	rows.Close()

	if len(records) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if _, err := tx.Exec(ctx, outboxClaimSQL, ids); err != nil {
		return nil, fmt.Errorf("outbox store: claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("outbox store: commit: %w", err)
	}
	return records, nil
}

// MarkPublished marks the given outbox ids as delivered.
func (s *OutboxStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, outboxMarkPublishedSQL, ids); err != nil {
		return fmt.Errorf("outbox store: mark published: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRecord(row rowScanner) (outboxstore.EventRecord, error) {
	var (
		record      outboxstore.EventRecord
		payloadJSON []byte
		publishedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&record.ID,
		&record.AggregateType,
		&record.AggregateID,
		&record.EventType,
		&payloadJSON,
		&record.CreatedAt,
		&publishedAt,
	); err != nil {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: scan record: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		record.PublishedAt = &t
	}
	payload, err := decodeJSON(payloadJSON)
	if err != nil {
		return outboxstore.EventRecord{}, fmt.Errorf("outbox store: decode payload: %w", err)
	}
	record.Payload = payload
	return record, nil
}

var _ outboxstore.Store = (*OutboxStore)(nil)
