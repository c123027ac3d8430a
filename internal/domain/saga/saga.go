// Package saga defines the Transfer aggregate and its state machine: the
// single authoritative source for a money transfer's lifecycle.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
)

// Status is a closed enumeration over the Transfer lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDebited   Status = "DEBITED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is absorbing: no further transition
// may ever be persisted once a Transfer reaches it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transfer is the saga record coordinating a single money movement.
type Transfer struct {
	TransferID       string
	SenderWalletID   string
	ReceiverWalletID string
	Amount           money.Amount
	Status           Status
	FailureReason    *string
	TimeoutAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store abstracts persistence for the Transfer aggregate. Every method that
// mutates state does so together with its outbox side effect in exactly one
// local database transaction.
type Store interface {
	// Create persists a brand new PENDING Transfer and its TransferInitiated
	// outbox record atomically.
	Create(ctx context.Context, t Transfer, evt outboxstore.Event) (Transfer, error)

	// Get returns the current Transfer by id, or a CodeNotFound error.
	Get(ctx context.Context, transferID string) (Transfer, error)

	// Transition attempts the conditional update
	// UPDATE transfers SET status = to WHERE transferId = ? AND status = from,
	// together with zero or more outbox inserts, in one local transaction.
	// It reports whether this call won the race (rows-affected == 1); a
	// false result with a nil error is an expected no-op, not a failure.
	Transition(ctx context.Context, transferID string, from, to Status, reason *string, evts []outboxstore.Event) (bool, error)

	// ListStuck returns Transfers whose timeoutAt has elapsed and whose
	// status is still non-terminal, ordered by timeoutAt ascending, bounded
	// to limit rows.
	ListStuck(ctx context.Context, before time.Time, limit int) ([]Transfer, error)
}

// ValidateInitiate enforces the initiation contract's input validation:
// well-formed, distinct wallet ids and a positive integer amount.
func ValidateInitiate(senderWalletID, receiverWalletID string, amount money.Amount) error {
	if senderWalletID == "" || receiverWalletID == "" {
		return errs.New("saga/initiate", errs.CodeValidation, errs.WithMessage("sender and receiver wallet ids are required"))
	}
	if _, err := uuid.Parse(senderWalletID); err != nil {
		return errs.New("saga/initiate", errs.CodeValidation, errs.WithMessage("senderWalletId must be a valid uuid"))
	}
	if _, err := uuid.Parse(receiverWalletID); err != nil {
		return errs.New("saga/initiate", errs.CodeValidation, errs.WithMessage("receiverWalletId must be a valid uuid"))
	}
	if senderWalletID == receiverWalletID {
		return errs.New("saga/initiate", errs.CodeValidation, errs.WithMessage("sender and receiver wallets must differ"))
	}
	return money.ValidatePositive("saga/initiate", amount)
}

// ValidateTransferID reports whether transferID is a well-formed uuid,
// the format every transferId column in Postgres actually stores.
func ValidateTransferID(transferID string) error {
	if _, err := uuid.Parse(transferID); err != nil {
		return errs.New("saga/get", errs.CodeValidation, errs.WithMessage("transferId must be a valid uuid"))
	}
	return nil
}
