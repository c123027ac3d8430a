package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/broker"
)

// fakeSagaStore is an in-memory saga.Store used to drive the Coordinator's
// handlers and service without a database.
type fakeSagaStore struct {
	mu        sync.Mutex
	transfers map[string]saga.Transfer
	outbox    []outboxstore.Event
}

func newFakeSagaStore() *fakeSagaStore {
	return &fakeSagaStore{transfers: make(map[string]saga.Transfer)}
}

func (s *fakeSagaStore) Create(_ context.Context, t saga.Transfer, evt outboxstore.Event) (saga.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[t.TransferID] = t
	s.outbox = append(s.outbox, evt)
	return t, nil
}

func (s *fakeSagaStore) Get(_ context.Context, transferID string) (saga.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return saga.Transfer{}, errs.New("saga/get", errs.CodeNotFound)
	}
	return t, nil
}

func (s *fakeSagaStore) Transition(_ context.Context, transferID string, from, to saga.Status, reason *string, evts []outboxstore.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return false, errs.New("saga/transition", errs.CodeNotFound)
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	t.FailureReason = reason
	s.transfers[transferID] = t
	s.outbox = append(s.outbox, evts...)
	return true, nil
}

func (s *fakeSagaStore) ListStuck(_ context.Context, before time.Time, limit int) ([]saga.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []saga.Transfer
	for _, t := range s.transfers {
		if !t.Status.Terminal() && !t.TimeoutAt.After(before) {
			stuck = append(stuck, t)
		}
		if len(stuck) == limit {
			break
		}
	}
	return stuck, nil
}

func (s *fakeSagaStore) status(transferID string) saga.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[transferID].Status
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestOnWalletDebitedMovesPendingToDebited(t *testing.T) {
	store := newFakeSagaStore()
	transfer, err := store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusPending}, outboxstore.Event{})
	require.NoError(t, err)
	require.Equal(t, saga.StatusPending, transfer.Status)

	h := NewHandlers(store)
	msg := broker.Message{Topic: events.WalletDebited.Topic(), Payload: mustMarshal(t, events.WalletDebitedPayload{
		Envelope: events.Envelope{TransferID: "t1"},
	})}
	require.NoError(t, h.onWalletDebited(context.Background(), msg))
	require.Equal(t, saga.StatusDebited, store.status("t1"))
}

func TestOnWalletDebitedIsIdempotentAgainstAlreadyDebited(t *testing.T) {
	store := newFakeSagaStore()
	_, _ = store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusDebited}, outboxstore.Event{})

	h := NewHandlers(store)
	msg := broker.Message{Payload: mustMarshal(t, events.WalletDebitedPayload{Envelope: events.Envelope{TransferID: "t1"}})}
	require.NoError(t, h.onWalletDebited(context.Background(), msg))
	require.Equal(t, saga.StatusDebited, store.status("t1"))
}

func TestOnWalletDebitFailedMovesPendingToFailedAndEmitsTransferFailed(t *testing.T) {
	store := newFakeSagaStore()
	_, _ = store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusPending}, outboxstore.Event{})

	h := NewHandlers(store)
	msg := broker.Message{Payload: mustMarshal(t, events.WalletDebitFailedPayload{
		Envelope: events.Envelope{TransferID: "t1"},
		Reason:   "sender wallet not found",
	})}
	require.NoError(t, h.onWalletDebitFailed(context.Background(), msg))
	require.Equal(t, saga.StatusFailed, store.status("t1"))

	found := false
	for _, evt := range store.outbox {
		if evt.EventType == string(events.TransferFailed) {
			found = true
		}
	}
	require.True(t, found, "expected a transfer.failed outbox record")
}

func TestOnWalletCreditedMovesDebitedToCompleted(t *testing.T) {
	store := newFakeSagaStore()
	_, _ = store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusDebited}, outboxstore.Event{})

	h := NewHandlers(store)
	msg := broker.Message{Payload: mustMarshal(t, events.WalletCreditedPayload{Envelope: events.Envelope{TransferID: "t1"}})}
	require.NoError(t, h.onWalletCredited(context.Background(), msg))
	require.Equal(t, saga.StatusCompleted, store.status("t1"))
}

func TestOnWalletCreditFailedMovesDebitedToFailed(t *testing.T) {
	store := newFakeSagaStore()
	_, _ = store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusDebited}, outboxstore.Event{})

	h := NewHandlers(store)
	msg := broker.Message{Payload: mustMarshal(t, events.WalletCreditFailedPayload{
		Envelope: events.Envelope{TransferID: "t1"},
		Reason:   "receiver wallet not found",
	})}
	require.NoError(t, h.onWalletCreditFailed(context.Background(), msg))
	require.Equal(t, saga.StatusFailed, store.status("t1"))
}

func TestOnWalletRefundedIsObservedButDoesNotMutateStatus(t *testing.T) {
	store := newFakeSagaStore()
	_, _ = store.Create(context.Background(), saga.Transfer{TransferID: "t1", Status: saga.StatusFailed}, outboxstore.Event{})

	h := NewHandlers(store)
	require.NoError(t, h.onWalletRefunded(context.Background(), broker.Message{}))
	require.Equal(t, saga.StatusFailed, store.status("t1"))
}

const (
	testSenderWalletID   = "11111111-1111-1111-1111-111111111111"
	testReceiverWalletID = "22222222-2222-2222-2222-222222222222"
)

func TestServiceInitiateRejectsInvalidInput(t *testing.T) {
	store := newFakeSagaStore()
	service := NewService(store)
	_, err := service.Initiate(context.Background(), testSenderWalletID, testSenderWalletID, money.Amount(100), time.Minute)
	require.Error(t, err)
	require.Equal(t, errs.CodeValidation, errs.CodeOf(err))
}

func TestServiceInitiateCreatesPendingTransfer(t *testing.T) {
	store := newFakeSagaStore()
	service := NewService(store)
	transfer, err := service.Initiate(context.Background(), testSenderWalletID, testReceiverWalletID, money.Amount(500), time.Minute)
	require.NoError(t, err)
	require.Equal(t, saga.StatusPending, transfer.Status)
	require.NotEmpty(t, transfer.TransferID)

	got, err := service.Get(context.Background(), transfer.TransferID)
	require.NoError(t, err)
	require.Equal(t, transfer.TransferID, got.TransferID)
}
