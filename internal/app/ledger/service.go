// Package ledger wires the wallet ledger engine, its event handlers, the
// outbox publisher, and the retry/DLQ compensation path into the Ledger
// service.
package ledger

import (
	"context"

	"github.com/moneysaga/engine/internal/domain/ledger"
)

// Service exposes the Ledger's request-path operations over the wallet
// ledger engine.
type Service struct {
	store ledger.Store
}

// NewService constructs a Service backed by store.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// CreateWallet validates and creates a zero-balance wallet for userID.
func (s *Service) CreateWallet(ctx context.Context, userID string) (ledger.Wallet, error) {
	if err := ledger.ValidateCreateWallet(userID); err != nil {
		return ledger.Wallet{}, err
	}
	return s.store.CreateWallet(ctx, userID)
}

// GetWallet returns the wallet by id.
func (s *Service) GetWallet(ctx context.Context, walletID string) (ledger.Wallet, error) {
	return s.store.GetWallet(ctx, walletID)
}
