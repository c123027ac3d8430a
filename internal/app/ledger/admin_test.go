package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/infra/config"
)

func TestAdminReplaySucceedsOnceSenderExists(t *testing.T) {
	store := newFakeLedgerStore() // sender missing at first quarantine time
	dlq := newFakeDLQStore()
	refund := NewRefundHandler(store, dlq, config.RefundRetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}, nil)

	payload := events.WalletCreditFailedPayload{
		Envelope: events.Envelope{TransferID: "t1"}, SenderWalletID: "sender", Amount: 400,
	}
	require.NoError(t, refund.Handle(context.Background(), events.WalletCreditFailed.Topic(), mustMarshal(t, payload), payload))

	letters, err := dlq.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	admin := NewAdmin(dlq, refund)
	store.addWallet("sender", 0) // operator provisions the wallet before replaying

	result, err := admin.Replay(context.Background(), letters[0].ID)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.EqualValues(t, 400, store.balance("sender"))

	dl, err := dlq.Get(context.Background(), letters[0].ID)
	require.NoError(t, err)
	require.Equal(t, dlqstore.StatusProcessed, dl.Status)
}

func TestAdminReplayOfAlreadyProcessedIsNoOp(t *testing.T) {
	dlq := newFakeDLQStore()
	inserted, err := dlq.Insert(context.Background(), dlqstore.DeadLetter{
		OriginalTopic:   events.WalletCreditFailed.Topic(),
		OriginalPayload: []byte(`{}`),
		Status:          dlqstore.StatusProcessed,
	})
	require.NoError(t, err)

	admin := NewAdmin(dlq, NewRefundHandler(newFakeLedgerStore(), dlq, config.RefundRetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}, nil))
	result, err := admin.Replay(context.Background(), inserted.ID)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestAdminReplayRejectsUnknownTopic(t *testing.T) {
	dlq := newFakeDLQStore()
	inserted, err := dlq.Insert(context.Background(), dlqstore.DeadLetter{
		OriginalTopic:   "some.other.topic",
		OriginalPayload: []byte(`{}`),
		Status:          dlqstore.StatusPending,
	})
	require.NoError(t, err)

	admin := NewAdmin(dlq, NewRefundHandler(newFakeLedgerStore(), dlq, config.RefundRetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}, nil))
	_, err = admin.Replay(context.Background(), inserted.ID)
	require.Error(t, err)
}

func TestAdminListFiltersByStatus(t *testing.T) {
	dlq := newFakeDLQStore()
	_, _ = dlq.Insert(context.Background(), dlqstore.DeadLetter{OriginalTopic: "x", Status: dlqstore.StatusPending})
	_, _ = dlq.Insert(context.Background(), dlqstore.DeadLetter{OriginalTopic: "y", Status: dlqstore.StatusProcessed})

	admin := NewAdmin(dlq, nil)
	pending := dlqstore.StatusPending
	letters, err := admin.List(context.Background(), &pending)
	require.NoError(t, err)
	require.Len(t, letters, 1)
}
