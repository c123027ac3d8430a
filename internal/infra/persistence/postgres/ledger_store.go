package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
)

// LedgerStore is the Postgres-backed implementation of ledger.Store, owning
// both the wallets table and the append-only wallet_ledger_entries table.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore constructs a LedgerStore backed by pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const insertWalletSQL = `
INSERT INTO wallets (wallet_id, user_id, balance)
VALUES ($1, $2, 0)
RETURNING wallet_id, user_id, balance, created_at, updated_at;
`

const selectWalletSQL = `
SELECT wallet_id, user_id, balance, created_at, updated_at
FROM wallets
WHERE wallet_id = $1;
`

const selectWalletForUpdateSQL = `
SELECT wallet_id, user_id, balance, created_at, updated_at
FROM wallets
WHERE wallet_id = $1
FOR UPDATE;
`

const debitWalletSQL = `
UPDATE wallets SET balance = balance - $2, updated_at = NOW()
WHERE wallet_id = $1 AND balance >= $2
RETURNING wallet_id, user_id, balance, created_at, updated_at;
`

const creditWalletSQL = `
UPDATE wallets SET balance = balance + $2, updated_at = NOW()
WHERE wallet_id = $1
RETURNING wallet_id, user_id, balance, created_at, updated_at;
`

const insertLedgerEntrySQL = `
INSERT INTO wallet_ledger_entries (entry_id, wallet_id, transaction_id, type, amount)
VALUES ($1, $2, $3, $4, $5)
RETURNING entry_id, wallet_id, transaction_id, type, amount, created_at;
`

const selectLedgerEntrySQL = `
SELECT entry_id, wallet_id, transaction_id, type, amount, created_at
FROM wallet_ledger_entries
WHERE wallet_id = $1 AND transaction_id = $2;
`

// CreateWallet inserts a zero-balance wallet for userID.
func (s *LedgerStore) CreateWallet(ctx context.Context, userID string) (ledger.Wallet, error) {
	walletID := uuid.Must(uuid.NewV7()).String()
	row := s.pool.QueryRow(ctx, insertWalletSQL, walletID, userID)
	wallet, err := scanWallet(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Wallet{}, errs.New("ledger/create-wallet", errs.CodeConflict,
				errs.WithMessage("user already has a wallet"), errs.WithCause(err))
		}
		return ledger.Wallet{}, fmt.Errorf("ledger store: create wallet: %w", err)
	}
	return wallet, nil
}

// GetWallet returns the wallet by id.
func (s *LedgerStore) GetWallet(ctx context.Context, walletID string) (ledger.Wallet, error) {
	row := s.pool.QueryRow(ctx, selectWalletSQL, walletID)
	wallet, err := scanWallet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ledger.Wallet{}, errs.New("ledger/get-wallet", errs.CodeNotFound,
				errs.WithMessage("Wallet not found"))
		}
		return ledger.Wallet{}, fmt.Errorf("ledger store: get wallet: %w", err)
	}
	return wallet, nil
}

// Apply performs the idempotent, constraint-checked ledger mutation
// described by ledger.Store.Apply, entirely inside one transaction.
func (s *LedgerStore) Apply(ctx context.Context, req ledger.ApplyRequest) (ledger.ApplyResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.ApplyResult{}, fmt.Errorf("ledger store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Step 1: idempotency short-circuit.
	if existing, wallet, ok, err := lookupExistingEntry(ctx, tx, req.WalletID, req.TransactionID); err != nil {
		return ledger.ApplyResult{}, err
	} else if ok {
		if err := tx.Commit(ctx); err != nil {
			return ledger.ApplyResult{}, fmt.Errorf("ledger store: commit duplicate read: %w", err)
		}
		return ledger.ApplyResult{Entry: existing, Wallet: wallet, Duplicate: true}, nil
	}

	// Step 2: lock the wallet row, then apply the constraint-checked balance
	// mutation.
	lockRow := tx.QueryRow(ctx, selectWalletForUpdateSQL, req.WalletID)
	if _, err := scanWallet(lockRow); err != nil {
		if err == pgx.ErrNoRows {
			return ledger.ApplyResult{}, errs.New("ledger/apply", errs.CodeWalletNotFound,
				errs.WithMessage("Wallet not found"))
		}
		return ledger.ApplyResult{}, fmt.Errorf("ledger store: lock wallet: %w", err)
	}

	var wallet ledger.Wallet
	switch req.Type {
	case ledger.EntryDebit:
		row := tx.QueryRow(ctx, debitWalletSQL, req.WalletID, int64(req.Amount))
		wallet, err = scanWallet(row)
		if err == pgx.ErrNoRows {
			return ledger.ApplyResult{}, errs.New("ledger/apply", errs.CodeInsufficientBalance,
				errs.WithMessage("Insufficient balance"))
		}
	case ledger.EntryCredit, ledger.EntryRefund:
		row := tx.QueryRow(ctx, creditWalletSQL, req.WalletID, int64(req.Amount))
		wallet, err = scanWallet(row)
	default:
		return ledger.ApplyResult{}, errs.New("ledger/apply", errs.CodeValidation,
			errs.WithMessage("unknown entry type"))
	}
	if err != nil {
		return ledger.ApplyResult{}, fmt.Errorf("ledger store: mutate balance: %w", err)
	}

	// Step 3: append the ledger entry.
	entryID := uuid.Must(uuid.NewV7()).String()
	row := tx.QueryRow(ctx, insertLedgerEntrySQL, entryID, req.WalletID, req.TransactionID, string(req.Type), int64(req.Amount))
	entry, err := scanLedgerEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the idempotency race between step 1 and here; re-read.
			existing, wallet, ok, lookupErr := lookupExistingEntry(ctx, tx, req.WalletID, req.TransactionID)
			if lookupErr != nil {
				return ledger.ApplyResult{}, lookupErr
			}
			if ok {
				if err := tx.Commit(ctx); err != nil {
					return ledger.ApplyResult{}, fmt.Errorf("ledger store: commit race duplicate: %w", err)
				}
				return ledger.ApplyResult{Entry: existing, Wallet: wallet, Duplicate: true}, nil
			}
		}
		return ledger.ApplyResult{}, fmt.Errorf("ledger store: insert entry: %w", err)
	}

	// Step 4: optionally write the accompanying outbox event, atomically.
	if req.Outbox != nil {
		if _, err := NewOutboxStore(s.pool).WithTx(tx).Enqueue(ctx, *req.Outbox); err != nil {
			return ledger.ApplyResult{}, fmt.Errorf("ledger store: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.ApplyResult{}, fmt.Errorf("ledger store: commit: %w", err)
	}
	return ledger.ApplyResult{Entry: entry, Wallet: wallet, Duplicate: false}, nil
}

// EmitEvent durably enqueues evt on its own, with no accompanying wallet or
// ledger entry mutation.
func (s *LedgerStore) EmitEvent(ctx context.Context, evt outboxstore.Event) error {
	if _, err := NewOutboxStore(s.pool).Enqueue(ctx, evt); err != nil {
		return fmt.Errorf("ledger store: emit event: %w", err)
	}
	return nil
}

func lookupExistingEntry(ctx context.Context, tx pgx.Tx, walletID, transactionID string) (ledger.Entry, ledger.Wallet, bool, error) {
	row := tx.QueryRow(ctx, selectLedgerEntrySQL, walletID, transactionID)
	entry, err := scanLedgerEntry(row)
	if err == pgx.ErrNoRows {
		return ledger.Entry{}, ledger.Wallet{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, ledger.Wallet{}, false, fmt.Errorf("ledger store: lookup entry: %w", err)
	}
	walletRow := tx.QueryRow(ctx, selectWalletSQL, walletID)
	wallet, err := scanWallet(walletRow)
	if err != nil {
		return ledger.Entry{}, ledger.Wallet{}, false, fmt.Errorf("ledger store: lookup wallet for duplicate: %w", err)
	}
	return entry, wallet, true, nil
}

type walletScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row walletScanner) (ledger.Wallet, error) {
	var (
		w         ledger.Wallet
		balance   int64
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&w.WalletID, &w.UserID, &balance, &createdAt, &updatedAt); err != nil {
		return ledger.Wallet{}, err
	}
	w.Balance = money.Amount(balance)
	w.CreatedAt = createdAt
	w.UpdatedAt = updatedAt
	return w, nil
}

func scanLedgerEntry(row walletScanner) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		typ       string
		amount    int64
		createdAt time.Time
	)
	if err := row.Scan(&e.EntryID, &e.WalletID, &e.TransactionID, &typ, &amount, &createdAt); err != nil {
		return ledger.Entry{}, err
	}
	e.Type = ledger.EntryType(strings.ToUpper(typ))
	e.Amount = money.Amount(amount)
	e.CreatedAt = createdAt
	return e, nil
}

var _ ledger.Store = (*LedgerStore)(nil)
