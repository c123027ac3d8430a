package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
)

// fakeLedgerStore is an in-memory ledger.Store reproducing the idempotent,
// constraint-checked Apply contract without a database.
type fakeLedgerStore struct {
	mu       sync.Mutex
	wallets  map[string]ledger.Wallet
	entries  map[string]ledger.Entry // key: walletID + "/" + transactionID
	outbox   []outboxstore.Event
	applyErr error // when set, Apply always fails with this error
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{
		wallets: make(map[string]ledger.Wallet),
		entries: make(map[string]ledger.Entry),
	}
}

func (s *fakeLedgerStore) addWallet(walletID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[walletID] = ledger.Wallet{WalletID: walletID, Balance: money.Amount(balance)}
}

func (s *fakeLedgerStore) CreateWallet(_ context.Context, userID string) (ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := ledger.Wallet{WalletID: uuid.NewString(), UserID: userID}
	s.wallets[w.WalletID] = w
	return w, nil
}

func (s *fakeLedgerStore) GetWallet(_ context.Context, walletID string) (ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ledger.Wallet{}, errs.New("ledger/get-wallet", errs.CodeNotFound)
	}
	return w, nil
}

func (s *fakeLedgerStore) Apply(_ context.Context, req ledger.ApplyRequest) (ledger.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applyErr != nil {
		return ledger.ApplyResult{}, s.applyErr
	}

	key := req.WalletID + "/" + req.TransactionID
	if existing, ok := s.entries[key]; ok {
		return ledger.ApplyResult{Entry: existing, Wallet: s.wallets[req.WalletID], Duplicate: true}, nil
	}

	wallet, ok := s.wallets[req.WalletID]
	if !ok {
		return ledger.ApplyResult{}, errs.New("ledger/apply", errs.CodeWalletNotFound)
	}

	switch req.Type {
	case ledger.EntryDebit:
		if wallet.Balance < req.Amount {
			return ledger.ApplyResult{}, errs.New("ledger/apply", errs.CodeInsufficientBalance)
		}
		wallet.Balance -= req.Amount
	case ledger.EntryCredit, ledger.EntryRefund:
		wallet.Balance += req.Amount
	}
	s.wallets[req.WalletID] = wallet

	entry := ledger.Entry{EntryID: uuid.NewString(), WalletID: req.WalletID, TransactionID: req.TransactionID, Type: req.Type, Amount: req.Amount}
	s.entries[key] = entry

	if req.Outbox != nil {
		s.outbox = append(s.outbox, *req.Outbox)
	}
	return ledger.ApplyResult{Entry: entry, Wallet: wallet}, nil
}

func (s *fakeLedgerStore) EmitEvent(_ context.Context, evt outboxstore.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, evt)
	return nil
}

func (s *fakeLedgerStore) balance(walletID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.wallets[walletID].Balance)
}

func (s *fakeLedgerStore) hasOutboxEventType(evtType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range s.outbox {
		if evt.EventType == evtType {
			return true
		}
	}
	return false
}

// fakeDLQStore is an in-memory dlqstore.Store.
type fakeDLQStore struct {
	mu      sync.Mutex
	nextID  int64
	letters map[int64]dlqstore.DeadLetter
	insertErr error
}

func newFakeDLQStore() *fakeDLQStore {
	return &fakeDLQStore{letters: make(map[int64]dlqstore.DeadLetter)}
}

func (s *fakeDLQStore) Insert(_ context.Context, dl dlqstore.DeadLetter) (dlqstore.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return dlqstore.DeadLetter{}, s.insertErr
	}
	s.nextID++
	dl.ID = s.nextID
	s.letters[dl.ID] = dl
	return dl, nil
}

func (s *fakeDLQStore) List(_ context.Context, status *dlqstore.Status) ([]dlqstore.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dlqstore.DeadLetter
	for _, dl := range s.letters {
		if status == nil || dl.Status == *status {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (s *fakeDLQStore) Get(_ context.Context, id int64) (dlqstore.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.letters[id]
	if !ok {
		return dlqstore.DeadLetter{}, errs.New("dlq/get", errs.CodeNotFound)
	}
	return dl, nil
}

func (s *fakeDLQStore) MarkProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl := s.letters[id]
	dl.Status = dlqstore.StatusProcessed
	s.letters[id] = dl
	return nil
}

func (s *fakeDLQStore) MarkFailed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dl := s.letters[id]
	dl.Status = dlqstore.StatusFailed
	s.letters[id] = dl
	return nil
}
