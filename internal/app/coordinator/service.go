// Package coordinator wires the saga state machine, its event handlers, the
// outbox publisher, and the timeout recoverer into the Coordinator service.
package coordinator

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/errs"
)

// Service exposes the Coordinator's request-path operations over the saga
// state machine; event-path handling lives in Handlers.
type Service struct {
	store saga.Store
	clock func() time.Time
}

// NewService constructs a Service backed by store.
func NewService(store saga.Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// SagaTimeout is the default absolute deadline granted to a new Transfer,
// overridable via config.CoordinatorConfig.SagaTimeout.
const SagaTimeout = 60 * time.Second

// Initiate validates and persists a new PENDING Transfer together with its
// TransferInitiated outbox record, in one local transaction.
func (s *Service) Initiate(ctx context.Context, senderWalletID, receiverWalletID string, amount money.Amount, timeout time.Duration) (saga.Transfer, error) {
	if err := saga.ValidateInitiate(senderWalletID, receiverWalletID, amount); err != nil {
		return saga.Transfer{}, err
	}
	if timeout <= 0 {
		timeout = SagaTimeout
	}

	now := s.clock()
	transferID := newTransferID()
	transfer := saga.Transfer{
		TransferID:       transferID,
		SenderWalletID:   senderWalletID,
		ReceiverWalletID: receiverWalletID,
		Amount:           amount,
		Status:           saga.StatusPending,
		TimeoutAt:        now.Add(timeout),
	}

	payload, err := json.Marshal(events.TransferInitiatedPayload{
		Envelope:         events.Envelope{TransferID: transferID, Timestamp: now.UTC()},
		SenderWalletID:   senderWalletID,
		ReceiverWalletID: receiverWalletID,
		Amount:           int64(amount),
	})
	if err != nil {
		return saga.Transfer{}, errs.New("coordinator/initiate", errs.CodeInternal, errs.WithCause(err))
	}

	created, err := s.store.Create(ctx, transfer, outboxstore.Event{
		AggregateType: "transfer",
		AggregateID:   transferID,
		EventType:     string(events.TransferInitiated),
		Payload:       payload,
	})
	if err != nil {
		return saga.Transfer{}, err
	}
	return created, nil
}

// Get returns the current Transfer projection by id.
func (s *Service) Get(ctx context.Context, transferID string) (saga.Transfer, error) {
	if err := saga.ValidateTransferID(transferID); err != nil {
		return saga.Transfer{}, err
	}
	return s.store.Get(ctx, transferID)
}
