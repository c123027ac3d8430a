package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moneysaga/engine/internal/infra/persistence"
)

// Store aggregates every repository backed by a single pgx pool. Each
// service constructs one Store over its own pool and pulls out the typed
// repositories its wiring needs.
type Store struct {
	*persistence.Store
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Store: persistence.NewStore(pool)}
}

// Transfers returns the saga.Store repository over this Store's pool.
func (s *Store) Transfers() *TransferStore {
	return NewTransferStore(s.Pool())
}

// Ledger returns the ledger.Store repository over this Store's pool.
func (s *Store) Ledger() *LedgerStore {
	return NewLedgerStore(s.Pool())
}

// Outbox returns the outboxstore.Store repository over this Store's pool.
func (s *Store) Outbox() *OutboxStore {
	return NewOutboxStore(s.Pool())
}

// DeadLetters returns the dlqstore.Store repository over this Store's pool.
func (s *Store) DeadLetters() *DLQStore {
	return NewDLQStore(s.Pool())
}
