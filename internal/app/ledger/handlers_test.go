package ledger

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/infra/broker"
	"github.com/moneysaga/engine/internal/infra/config"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestOnTransferInitiatedDebitsSender(t *testing.T) {
	store := newFakeLedgerStore()
	store.addWallet("sender", 1000)
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.TransferInitiatedPayload{
		Envelope:         events.Envelope{TransferID: "t1"},
		SenderWalletID:   "sender",
		ReceiverWalletID: "receiver",
		Amount:           400,
	})}
	require.NoError(t, h.onTransferInitiated(context.Background(), msg))
	require.EqualValues(t, 600, store.balance("sender"))
	require.True(t, store.hasOutboxEventType(string(events.WalletDebited)))
}

func TestOnTransferInitiatedIsIdempotent(t *testing.T) {
	store := newFakeLedgerStore()
	store.addWallet("sender", 1000)
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.TransferInitiatedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", ReceiverWalletID: "receiver", Amount: 400,
	})}
	require.NoError(t, h.onTransferInitiated(context.Background(), msg))
	require.NoError(t, h.onTransferInitiated(context.Background(), msg))
	require.EqualValues(t, 600, store.balance("sender"))
}

func TestOnTransferInitiatedEmitsDebitFailedWhenSenderMissing(t *testing.T) {
	store := newFakeLedgerStore()
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.TransferInitiatedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", ReceiverWalletID: "receiver", Amount: 400,
	})}
	require.NoError(t, h.onTransferInitiated(context.Background(), msg))
	require.True(t, store.hasOutboxEventType(string(events.WalletDebitFailed)))
}

func TestOnTransferInitiatedEmitsDebitFailedOnInsufficientBalance(t *testing.T) {
	store := newFakeLedgerStore()
	store.addWallet("sender", 100)
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.TransferInitiatedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", ReceiverWalletID: "receiver", Amount: 400,
	})}
	require.NoError(t, h.onTransferInitiated(context.Background(), msg))
	require.True(t, store.hasOutboxEventType(string(events.WalletDebitFailed)))
	require.EqualValues(t, 100, store.balance("sender"))
}

func TestOnWalletDebitedCreditsReceiver(t *testing.T) {
	store := newFakeLedgerStore()
	store.addWallet("receiver", 0)
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.WalletDebitedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", ReceiverWalletID: "receiver", Amount: 400,
	})}
	require.NoError(t, h.onWalletDebited(context.Background(), msg))
	require.EqualValues(t, 400, store.balance("receiver"))
	require.True(t, store.hasOutboxEventType(string(events.WalletCredited)))
}

func TestOnWalletDebitedEmitsCreditFailedWhenReceiverMissing(t *testing.T) {
	store := newFakeLedgerStore()
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.WalletDebitedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", ReceiverWalletID: "receiver", Amount: 400,
	})}
	require.NoError(t, h.onWalletDebited(context.Background(), msg))
	require.True(t, store.hasOutboxEventType(string(events.WalletCreditFailed)))
}

func TestOnWalletCreditFailedRefundsSender(t *testing.T) {
	store := newFakeLedgerStore()
	store.addWallet("sender", 600)
	refund := NewRefundHandler(store, newFakeDLQStore(), config.RefundRetryConfig{MaxAttempts: 3}, nil)
	h := NewHandlers(store, refund)

	msg := broker.Message{Payload: mustMarshal(t, events.WalletCreditFailedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", Amount: 400, Reason: "receiver wallet not found",
	})}
	require.NoError(t, h.onWalletCreditFailed(context.Background(), msg))
	require.EqualValues(t, 1000, store.balance("sender"))
	require.True(t, store.hasOutboxEventType(string(events.WalletRefunded)))
}

func TestServiceCreateWalletRejectsEmptyUserID(t *testing.T) {
	store := newFakeLedgerStore()
	svc := NewService(store)
	_, err := svc.CreateWallet(context.Background(), "")
	require.Error(t, err)
}

func TestServiceCreateWalletAndGetWallet(t *testing.T) {
	store := newFakeLedgerStore()
	svc := NewService(store)
	w, err := svc.CreateWallet(context.Background(), "user-1")
	require.NoError(t, err)

	got, err := svc.GetWallet(context.Background(), w.WalletID)
	require.NoError(t, err)
	require.Equal(t, w.WalletID, got.WalletID)
	require.EqualValues(t, 0, got.Balance)
}
