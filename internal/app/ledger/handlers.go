package ledger

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/broker"
)

// Handlers implements the Ledger's half of the choreography: debit on
// TransferInitiated, credit on WalletDebited, refund on WalletCreditFailed.
type Handlers struct {
	store   ledger.Store
	refund  *RefundHandler
	clock   func() time.Time
}

// NewHandlers constructs the event handler set for the Ledger.
func NewHandlers(store ledger.Store, refund *RefundHandler) *Handlers {
	return &Handlers{store: store, refund: refund, clock: time.Now}
}

// Subscribe registers every handler this service consumes onto b.
func (h *Handlers) Subscribe(b broker.Broker) {
	b.Subscribe(events.TransferInitiated.Topic(), h.onTransferInitiated)
	b.Subscribe(events.WalletDebited.Topic(), h.onWalletDebited)
	b.Subscribe(events.WalletCreditFailed.Topic(), h.onWalletCreditFailed)
}

// onTransferInitiated debits the sender. On failure it writes
// WalletDebitFailed to the outbox instead of mutating the ledger.
func (h *Handlers) onTransferInitiated(ctx context.Context, msg broker.Message) error {
	var payload events.TransferInitiatedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	now := h.clock().UTC()
	debitedPayload, err := json.Marshal(events.WalletDebitedPayload{
		Envelope:         events.Envelope{TransferID: payload.TransferID, Timestamp: now},
		SenderWalletID:   payload.SenderWalletID,
		ReceiverWalletID: payload.ReceiverWalletID,
		Amount:           payload.Amount,
	})
	if err != nil {
		return err
	}

	_, err = h.store.Apply(ctx, ledger.ApplyRequest{
		WalletID:      payload.SenderWalletID,
		TransactionID: payload.TransferID,
		Amount:        money.Amount(payload.Amount),
		Type:          ledger.EntryDebit,
		Outbox: &outboxstore.Event{
			AggregateType: "wallet",
			AggregateID:   payload.TransferID,
			EventType:     string(events.WalletDebited),
			Payload:       debitedPayload,
		},
	})
	if err == nil {
		return nil
	}
	if !isBusinessFailure(err) {
		return err
	}

	return h.emitDebitFailed(ctx, payload.TransferID, reasonFor(err))
}

// onWalletDebited credits the receiver. On failure it writes
// WalletCreditFailed to the outbox, which drives compensation.
func (h *Handlers) onWalletDebited(ctx context.Context, msg broker.Message) error {
	var payload events.WalletDebitedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	now := h.clock().UTC()
	creditedPayload, err := json.Marshal(events.WalletCreditedPayload{
		Envelope:         events.Envelope{TransferID: payload.TransferID, Timestamp: now},
		ReceiverWalletID: payload.ReceiverWalletID,
		Amount:           payload.Amount,
	})
	if err != nil {
		return err
	}

	_, err = h.store.Apply(ctx, ledger.ApplyRequest{
		WalletID:      payload.ReceiverWalletID,
		TransactionID: payload.TransferID,
		Amount:        money.Amount(payload.Amount),
		Type:          ledger.EntryCredit,
		Outbox: &outboxstore.Event{
			AggregateType: "wallet",
			AggregateID:   payload.TransferID,
			EventType:     string(events.WalletCredited),
			Payload:       creditedPayload,
		},
	})
	if err == nil {
		return nil
	}
	if !isBusinessFailure(err) {
		return err
	}

	return h.emitCreditFailed(ctx, payload.TransferID, payload.SenderWalletID, payload.Amount, reasonFor(err))
}

// onWalletCreditFailed performs the compensating refund, wrapped in the
// bounded retry-then-DLQ policy.
func (h *Handlers) onWalletCreditFailed(ctx context.Context, msg broker.Message) error {
	var payload events.WalletCreditFailedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}
	return h.refund.Handle(ctx, msg.Topic, msg.Payload, payload)
}

func (h *Handlers) emitDebitFailed(ctx context.Context, transferID, reason string) error {
	now := h.clock().UTC()
	payload, err := json.Marshal(events.WalletDebitFailedPayload{
		Envelope: events.Envelope{TransferID: transferID, Timestamp: now},
		Reason:   reason,
	})
	if err != nil {
		return err
	}
	return h.emitOnly(ctx, transferID, events.WalletDebitFailed, payload)
}

func (h *Handlers) emitCreditFailed(ctx context.Context, transferID, senderWalletID string, amount int64, reason string) error {
	now := h.clock().UTC()
	payload, err := json.Marshal(events.WalletCreditFailedPayload{
		Envelope:       events.Envelope{TransferID: transferID, Timestamp: now},
		SenderWalletID: senderWalletID,
		Amount:         amount,
		Reason:         reason,
	})
	if err != nil {
		return err
	}
	return h.emitOnly(ctx, transferID, events.WalletCreditFailed, payload)
}

// emitOnly is used for handler paths where no ledger entry is written: the
// event still needs a durable outbox home, so it is enqueued through
// Store.EmitEvent without touching any wallet or ledger entry row.
func (h *Handlers) emitOnly(ctx context.Context, transferID string, evtType events.Type, payload json.RawMessage) error {
	return h.store.EmitEvent(ctx, outboxstore.Event{
		AggregateType: "wallet",
		AggregateID:   transferID,
		EventType:     string(evtType),
		Payload:       payload,
	})
}

func isBusinessFailure(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeWalletNotFound, errs.CodeInsufficientBalance:
		return true
	default:
		return false
	}
}

func reasonFor(err error) string {
	var e *errs.E
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
