package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/errs"
)

// DLQStore is the Postgres-backed implementation of dlqstore.Store.
type DLQStore struct {
	pool *pgxpool.Pool
}

// NewDLQStore constructs a DLQStore backed by pool.
func NewDLQStore(pool *pgxpool.Pool) *DLQStore {
	return &DLQStore{pool: pool}
}

const insertDeadLetterSQL = `
INSERT INTO dead_letter_queue (original_topic, original_payload, error_message, error_stack, attempt_count, status)
VALUES ($1, $2::jsonb, $3, $4, $5, $6)
RETURNING id, original_topic, original_payload, error_message, error_stack, attempt_count, status, created_at, processed_at;
`

const selectDeadLetterSQL = `
SELECT id, original_topic, original_payload, error_message, error_stack, attempt_count, status, created_at, processed_at
FROM dead_letter_queue
WHERE id = $1;
`

const listDeadLettersSQL = `
SELECT id, original_topic, original_payload, error_message, error_stack, attempt_count, status, created_at, processed_at
FROM dead_letter_queue
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at DESC;
`

const markDeadLetterProcessedSQL = `
UPDATE dead_letter_queue SET status = 'PROCESSED', processed_at = NOW()
WHERE id = $1;
`

const markDeadLetterFailedSQL = `
UPDATE dead_letter_queue SET status = 'FAILED', processed_at = NOW()
WHERE id = $1;
`

// Insert quarantines dl.
func (s *DLQStore) Insert(ctx context.Context, dl dlqstore.DeadLetter) (dlqstore.DeadLetter, error) {
	row := s.pool.QueryRow(ctx, insertDeadLetterSQL, dl.OriginalTopic, []byte(dl.OriginalPayload),
		dl.ErrorMessage, dl.ErrorStack, dl.AttemptCount, string(dl.Status))
	return scanDeadLetter(row)
}

// List returns dead letters newest-first, optionally filtered by status.
func (s *DLQStore) List(ctx context.Context, status *dlqstore.Status) ([]dlqstore.DeadLetter, error) {
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}
	rows, err := s.pool.Query(ctx, listDeadLettersSQL, statusArg)
	if err != nil {
		return nil, fmt.Errorf("dlq store: list: %w", err)
	}
	defer rows.Close()

	var out []dlqstore.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dlq store: iterate: %w", err)
	}
	return out, nil
}

// Get returns a single dead letter by id.
func (s *DLQStore) Get(ctx context.Context, id int64) (dlqstore.DeadLetter, error) {
	row := s.pool.QueryRow(ctx, selectDeadLetterSQL, id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return dlqstore.DeadLetter{}, errs.New("dlq/get", errs.CodeNotFound, errs.WithMessage("dead letter not found"))
		}
		return dlqstore.DeadLetter{}, fmt.Errorf("dlq store: get: %w", err)
	}
	return dl, nil
}

// MarkProcessed marks a dead letter as successfully replayed.
func (s *DLQStore) MarkProcessed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, markDeadLetterProcessedSQL, id)
	if err != nil {
		return fmt.Errorf("dlq store: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("dlq/mark-processed", errs.CodeNotFound, errs.WithMessage("dead letter not found"))
	}
	return nil
}

// MarkFailed marks a dead letter's replay attempt as failed.
func (s *DLQStore) MarkFailed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, markDeadLetterFailedSQL, id)
	if err != nil {
		return fmt.Errorf("dlq store: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("dlq/mark-failed", errs.CodeNotFound, errs.WithMessage("dead letter not found"))
	}
	return nil
}

func scanDeadLetter(row walletScanner) (dlqstore.DeadLetter, error) {
	var (
		dl          dlqstore.DeadLetter
		payloadJSON []byte
		errorStack  pgtype.Text
		status      string
		processedAt pgtype.Timestamptz
		createdAt   time.Time
	)
	if err := row.Scan(&dl.ID, &dl.OriginalTopic, &payloadJSON, &dl.ErrorMessage, &errorStack,
		&dl.AttemptCount, &status, &createdAt, &processedAt); err != nil {
		return dlqstore.DeadLetter{}, err
	}
	dl.OriginalPayload = payloadJSON
	if errorStack.Valid {
		dl.ErrorStack = errorStack.String
	}
	dl.Status = dlqstore.Status(status)
	dl.CreatedAt = createdAt
	if processedAt.Valid {
		t := processedAt.Time
		dl.ProcessedAt = &t
	}
	return dl, nil
}

var _ dlqstore.Store = (*DLQStore)(nil)
