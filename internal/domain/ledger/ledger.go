// Package ledger implements the idempotent, constraint-checked wallet
// ledger: the only component allowed to mutate a Wallet's balance.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
)

// EntryType is a closed three-way tag over ledger effects.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
	EntryRefund EntryType = "REFUND"
)

// Wallet is the mutable balance aggregate. Balance never goes negative.
type Wallet struct {
	WalletID  string
	UserID    string
	Balance   money.Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is an append-only record of a single balance mutation. The pair
// (WalletID, TransactionID) is unique and is the idempotency key for every
// wallet-side effect.
type Entry struct {
	EntryID       string
	WalletID      string
	TransactionID string
	Type          EntryType
	Amount        money.Amount
	CreatedAt     time.Time
}

// ApplyRequest describes one idempotent, constraint-checked ledger mutation.
type ApplyRequest struct {
	WalletID      string
	TransactionID string
	Amount        money.Amount
	Type          EntryType
	// Outbox, when non-nil, is inserted atomically with the ledger effect.
	// It MUST be omitted when the operation turns out to be a duplicate.
	Outbox *outboxstore.Event
}

// ApplyResult reports the outcome of Apply.
type ApplyResult struct {
	Entry     Entry
	Wallet    Wallet
	Duplicate bool
}

// Store abstracts persistence for the ledger engine.
type Store interface {
	// CreateWallet inserts a zero-balance wallet for userID, or fails with
	// CodeConflict if the user already has one.
	CreateWallet(ctx context.Context, userID string) (Wallet, error)

	// GetWallet returns the wallet by id, or CodeNotFound.
	GetWallet(ctx context.Context, walletID string) (Wallet, error)

	// Apply performs the six-step idempotent balance mutation described by
	// the ledger engine's operation contract, in one local transaction:
	// idempotency short-circuit, atomic balance update under the invariant
	// balance >= 0, entry insert, optional outbox insert.
	//
	// Business failures (wallet missing, insufficient balance) are returned
	// as *errs.E with CodeWalletNotFound / CodeInsufficientBalance; the
	// transaction rolls back and no Entry or outbox row is written.
	Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error)

	// EmitEvent durably enqueues evt without touching any wallet or ledger
	// entry row. It backs the *Failed events, which carry no ledger effect
	// of their own but still need the outbox's atomic-write-then-publish
	// guarantee.
	EmitEvent(ctx context.Context, evt outboxstore.Event) error
}

// refundNamespace namespaces the deterministic refund transaction id
// derivation. It MUST NOT change: changing it would break idempotency
// against previously-persisted refund ledger entries.
var refundNamespace = uuid.MustParse("6ba7b813-9dad-11d1-80b4-00c04fd430c8")

// RefundTransactionID derives the deterministic transaction id used for the
// compensating refund of transferID. It is namespaced separately from the
// original debit's transactionId (which is transferID itself) so the two
// can never collide, and it is stable across retries, redeliveries, DLQ
// replays, and timeout-driven compensation — the property that makes
// refund-compensation idempotent. Never randomize this derivation.
func RefundTransactionID(transferID string) string {
	return uuid.NewSHA1(refundNamespace, []byte("refund:"+transferID)).String()
}

// ValidateCreateWallet enforces the wallet-creation contract's input validation.
func ValidateCreateWallet(userID string) error {
	if userID == "" {
		return errs.New("ledger/create-wallet", errs.CodeValidation, errs.WithMessage("userId is required"))
	}
	return nil
}
