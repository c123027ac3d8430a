package ledger

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/config"
)

// RefundHandler handles a credit failure by refunding the sender through
// the same idempotent ledger engine, retrying transient store errors with
// bounded exponential backoff before quarantining the
// message to the dead-letter queue rather than blocking the partition.
type RefundHandler struct {
	store  ledger.Store
	dlq    dlqstore.Store
	cfg    config.RefundRetryConfig
	clock  func() time.Time
	logger *log.Logger

	retryCount metric.Int64Histogram
	dlqTotal   metric.Int64Counter
}

// NewRefundHandler constructs the Ledger's refund-with-retry-and-DLQ handler.
func NewRefundHandler(store ledger.Store, dlq dlqstore.Store, cfg config.RefundRetryConfig, logger *log.Logger) *RefundHandler {
	meter := otel.Meter("ledger.compensation")
	retryCount, _ := meter.Int64Histogram("ledger.compensation.retry_count",
		metric.WithDescription("Attempts taken before a compensating refund succeeded or was quarantined"),
		metric.WithUnit("{attempt}"))
	dlqTotal, _ := meter.Int64Counter("ledger.compensation.dlq_total",
		metric.WithDescription("Number of compensating refunds quarantined to the dead-letter queue"),
		metric.WithUnit("{message}"))
	return &RefundHandler{store: store, dlq: dlq, cfg: cfg, clock: time.Now, logger: logger, retryCount: retryCount, dlqTotal: dlqTotal}
}

// Handle refunds payload.SenderWalletID for the failed credit described by
// topic/rawPayload. Once retries are exhausted the message is quarantined
// and acknowledged (nil returned): a permanently-quarantined refund must not
// block redelivery of everything behind it on the same partition. The one
// exception is a failed dead-letter insert, whose error is returned.
func (h *RefundHandler) Handle(ctx context.Context, topic string, rawPayload json.RawMessage, payload events.WalletCreditFailedPayload) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, h.attempt(ctx, payload)
	},
		backoff.WithBackOff(h.backOff()),
		backoff.WithMaxTries(uint(h.cfg.MaxAttempts)),
	)

	if h.retryCount != nil {
		h.retryCount.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("outcome", outcomeLabel(err))))
	}
	if err == nil {
		return nil
	}
	// A business failure (e.g. sender wallet vanished) is marked permanent
	// in attempt and so reaches here after a single try; anything else
	// arrives after the retry budget is exhausted. Either way it is
	// quarantined rather than returned as a handler error, so the message is
	// acknowledged and does not block the rest of its partition; only a
	// failed quarantine insert is returned.
	return h.quarantine(ctx, topic, rawPayload, err, attempts)
}

// attempt performs one refund application. Business failures short-circuit
// the retry loop via backoff.Permanent; anything else is retried.
func (h *RefundHandler) attempt(ctx context.Context, payload events.WalletCreditFailedPayload) error {
	now := h.clock().UTC()
	refundedPayload, err := json.Marshal(events.WalletRefundedPayload{
		Envelope:       events.Envelope{TransferID: payload.TransferID, Timestamp: now},
		SenderWalletID: payload.SenderWalletID,
		Amount:         payload.Amount,
	})
	if err != nil {
		return backoff.Permanent(err)
	}

	_, err = h.store.Apply(ctx, ledger.ApplyRequest{
		WalletID:      payload.SenderWalletID,
		TransactionID: ledger.RefundTransactionID(payload.TransferID),
		Amount:        money.Amount(payload.Amount),
		Type:          ledger.EntryRefund,
		Outbox: &outboxstore.Event{
			AggregateType: "wallet",
			AggregateID:   payload.TransferID,
			EventType:     string(events.WalletRefunded),
			Payload:       refundedPayload,
		},
	})
	if err == nil {
		return nil
	}
	if isBusinessRefundFailure(err) {
		return backoff.Permanent(err)
	}
	return err
}

func (h *RefundHandler) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = 2 * time.Second
	return bo
}

func (h *RefundHandler) quarantine(ctx context.Context, topic string, rawPayload json.RawMessage, cause error, attempts int) error {
	dl := dlqstore.DeadLetter{
		OriginalTopic:   topic,
		OriginalPayload: rawPayload,
		ErrorMessage:    cause.Error(),
		AttemptCount:    attempts,
		Status:          dlqstore.StatusPending,
	}
	if _, err := h.dlq.Insert(ctx, dl); err != nil {
		if h.logger != nil {
			h.logger.Printf("refund handler: quarantine insert failed, message will be redelivered: %v", err)
		}
		return err
	}
	if h.logger != nil {
		h.logger.Printf("refund handler: quarantined transfer after %d attempts: %v", attempts, cause)
	}
	if h.dlqTotal != nil {
		h.dlqTotal.Add(ctx, 1)
	}
	return nil
}

func isBusinessRefundFailure(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeWalletNotFound:
		return true
	default:
		return false
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return "succeeded"
	}
	return "quarantined"
}
