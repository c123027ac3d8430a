package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/errs"
)

// TransferStore is the Postgres-backed implementation of saga.Store.
type TransferStore struct {
	pool *pgxpool.Pool
}

// NewTransferStore constructs a TransferStore backed by pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

const insertTransferSQL = `
INSERT INTO transfers (transfer_id, sender_wallet_id, receiver_wallet_id, amount, status, timeout_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING transfer_id, sender_wallet_id, receiver_wallet_id, amount, status, failure_reason, timeout_at, created_at, updated_at;
`

const selectTransferSQL = `
SELECT transfer_id, sender_wallet_id, receiver_wallet_id, amount, status, failure_reason, timeout_at, created_at, updated_at
FROM transfers
WHERE transfer_id = $1;
`

const transitionTransferSQL = `
UPDATE transfers
SET status = $3, failure_reason = $4, updated_at = NOW()
WHERE transfer_id = $1 AND status = $2;
`

const listStuckTransfersSQL = `
SELECT transfer_id, sender_wallet_id, receiver_wallet_id, amount, status, failure_reason, timeout_at, created_at, updated_at
FROM transfers
WHERE timeout_at < $1 AND status IN ('PENDING', 'DEBITED')
ORDER BY timeout_at ASC
LIMIT $2;
`

// Create persists a brand new PENDING Transfer and its TransferInitiated
// outbox record atomically.
func (s *TransferStore) Create(ctx context.Context, t saga.Transfer, evt outboxstore.Event) (saga.Transfer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return saga.Transfer{}, fmt.Errorf("transfer store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, insertTransferSQL, t.TransferID, t.SenderWalletID, t.ReceiverWalletID,
		int64(t.Amount), string(t.Status), t.TimeoutAt)
	created, err := scanTransfer(row)
	if err != nil {
		return saga.Transfer{}, fmt.Errorf("transfer store: insert: %w", err)
	}

	if _, err := NewOutboxStore(s.pool).WithTx(tx).Enqueue(ctx, evt); err != nil {
		return saga.Transfer{}, fmt.Errorf("transfer store: enqueue outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return saga.Transfer{}, fmt.Errorf("transfer store: commit: %w", err)
	}
	return created, nil
}

// Get returns the current Transfer by id.
func (s *TransferStore) Get(ctx context.Context, transferID string) (saga.Transfer, error) {
	row := s.pool.QueryRow(ctx, selectTransferSQL, transferID)
	t, err := scanTransfer(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return saga.Transfer{}, errs.New("saga/get", errs.CodeNotFound, errs.WithMessage("transfer not found"))
		}
		return saga.Transfer{}, fmt.Errorf("transfer store: get: %w", err)
	}
	return t, nil
}

// Transition attempts the conditional status update together with its
// outbox side effects in one local transaction.
func (s *TransferStore) Transition(ctx context.Context, transferID string, from, to saga.Status, reason *string, evts []outboxstore.Event) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("transfer store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, transitionTransferSQL, transferID, string(from), string(to), reason)
	if err != nil {
		return false, fmt.Errorf("transfer store: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race (duplicate delivery or concurrent timeout scan); no
		// outbox events are written for a losing transition.
		return false, tx.Commit(ctx)
	}

	outbox := NewOutboxStore(s.pool).WithTx(tx)
	for _, evt := range evts {
		if _, err := outbox.Enqueue(ctx, evt); err != nil {
			return false, fmt.Errorf("transfer store: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("transfer store: commit: %w", err)
	}
	return true, nil
}

// ListStuck returns Transfers whose timeoutAt has elapsed and whose status
// is still non-terminal.
func (s *TransferStore) ListStuck(ctx context.Context, before time.Time, limit int) ([]saga.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, listStuckTransfersSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("transfer store: list stuck: %w", err)
	}
	defer rows.Close()

	var out []saga.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer store: iterate stuck: %w", err)
	}
	return out, nil
}

func scanTransfer(row walletScanner) (saga.Transfer, error) {
	var (
		t             saga.Transfer
		amount        int64
		status        string
		failureReason *string
	)
	if err := row.Scan(&t.TransferID, &t.SenderWalletID, &t.ReceiverWalletID, &amount, &status,
		&failureReason, &t.TimeoutAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return saga.Transfer{}, err
	}
	t.Amount = money.Amount(amount)
	t.Status = saga.Status(status)
	t.FailureReason = failureReason
	return t, nil
}

var _ saga.Store = (*TransferStore)(nil)
