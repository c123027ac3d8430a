package coordinator

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/infra/broker"
)

// Handlers implements the Coordinator's half of the choreography: it
// reacts to wallet events and drives the Transfer state machine, one
// conditional transition per delivery.
type Handlers struct {
	store saga.Store
	clock func() time.Time
}

// NewHandlers constructs the event handler set for the Coordinator.
func NewHandlers(store saga.Store) *Handlers {
	return &Handlers{store: store, clock: time.Now}
}

// Subscribe registers every handler this service consumes onto b.
func (h *Handlers) Subscribe(b broker.Broker) {
	b.Subscribe(events.WalletDebited.Topic(), h.onWalletDebited)
	b.Subscribe(events.WalletDebitFailed.Topic(), h.onWalletDebitFailed)
	b.Subscribe(events.WalletCredited.Topic(), h.onWalletCredited)
	b.Subscribe(events.WalletCreditFailed.Topic(), h.onWalletCreditFailed)
	b.Subscribe(events.WalletRefunded.Topic(), h.onWalletRefunded)
}

// onWalletDebited moves PENDING to DEBITED. No outbox side effect.
func (h *Handlers) onWalletDebited(ctx context.Context, msg broker.Message) error {
	var payload events.WalletDebitedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	_, err := h.store.Transition(ctx, payload.TransferID, saga.StatusPending, saga.StatusDebited, nil, nil)
	return err
}

// onWalletDebitFailed moves PENDING to FAILED and emits TransferFailed.
func (h *Handlers) onWalletDebitFailed(ctx context.Context, msg broker.Message) error {
	var payload events.WalletDebitFailedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	return h.failFrom(ctx, saga.StatusPending, payload.TransferID, payload.Reason)
}

// onWalletCredited moves DEBITED to COMPLETED and emits TransferCompleted.
func (h *Handlers) onWalletCredited(ctx context.Context, msg broker.Message) error {
	var payload events.WalletCreditedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	now := h.clock().UTC()
	evtPayload, err := json.Marshal(events.TransferCompletedPayload{
		Envelope: events.Envelope{TransferID: payload.TransferID, Timestamp: now},
	})
	if err != nil {
		return err
	}
	_, err = h.store.Transition(ctx, payload.TransferID, saga.StatusDebited, saga.StatusCompleted, nil, []outboxstore.Event{
		{AggregateType: "transfer", AggregateID: payload.TransferID, EventType: string(events.TransferCompleted), Payload: evtPayload},
	})
	return err
}

// onWalletCreditFailed moves DEBITED to FAILED and emits TransferFailed.
// Compensation (the refund) is driven entirely by the Ledger consuming the
// same wallet.credit-failed event; the Coordinator does not react further.
func (h *Handlers) onWalletCreditFailed(ctx context.Context, msg broker.Message) error {
	var payload events.WalletCreditFailedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	return h.failFrom(ctx, saga.StatusDebited, payload.TransferID, payload.Reason)
}

// onWalletRefunded is observed for audit only; no state change.
func (h *Handlers) onWalletRefunded(_ context.Context, _ broker.Message) error {
	return nil
}

func (h *Handlers) failFrom(ctx context.Context, from saga.Status, transferID, reason string) error {
	now := h.clock().UTC()
	evtPayload, err := json.Marshal(events.TransferFailedPayload{
		Envelope: events.Envelope{TransferID: transferID, Timestamp: now},
		Reason:   reason,
	})
	if err != nil {
		return err
	}
	_, err = h.store.Transition(ctx, transferID, from, saga.StatusFailed, &reason, []outboxstore.Event{
		{AggregateType: "transfer", AggregateID: transferID, EventType: string(events.TransferFailed), Payload: evtPayload},
	})
	return err
}
