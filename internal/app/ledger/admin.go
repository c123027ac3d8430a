package ledger

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/errs"
)

// Admin exposes the dead-letter queue's operator surface: list, inspect, and
// replay quarantined compensations.
type Admin struct {
	dlq    dlqstore.Store
	refund *RefundHandler
}

// NewAdmin constructs the DLQ admin surface.
func NewAdmin(dlq dlqstore.Store, refund *RefundHandler) *Admin {
	return &Admin{dlq: dlq, refund: refund}
}

// List returns dead letters, optionally filtered by status.
func (a *Admin) List(ctx context.Context, status *dlqstore.Status) ([]dlqstore.DeadLetter, error) {
	return a.dlq.List(ctx, status)
}

// Get returns a single dead letter by id.
func (a *Admin) Get(ctx context.Context, id int64) (dlqstore.DeadLetter, error) {
	return a.dlq.Get(ctx, id)
}

// ReplayResult reports the outcome of a replay attempt.
type ReplayResult struct {
	Success bool
	Message string
}

// Replay reconstructs the original message from dl.OriginalPayload and
// re-invokes the handler that produced it. Replaying an already-PROCESSED
// dead letter is a no-op success: replay must be safe to retry from an
// operator's browser tab.
func (a *Admin) Replay(ctx context.Context, id int64) (ReplayResult, error) {
	dl, err := a.dlq.Get(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	if dl.Status == dlqstore.StatusProcessed {
		return ReplayResult{Success: true, Message: "already processed"}, nil
	}

	switch dl.OriginalTopic {
	case events.WalletCreditFailed.Topic():
		var payload events.WalletCreditFailedPayload
		if err := json.Unmarshal(dl.OriginalPayload, &payload); err != nil {
			return ReplayResult{}, errs.New("ledger/admin-replay", errs.CodeValidation,
				errs.WithMessage("stored payload is not a valid wallet.credit-failed event"), errs.WithCause(err))
		}
		if err := a.refund.attempt(ctx, payload); err != nil {
			_ = a.dlq.MarkFailed(ctx, id)
			return ReplayResult{Success: false, Message: err.Error()}, nil
		}
	default:
		return ReplayResult{}, errs.New("ledger/admin-replay", errs.CodeValidation,
			errs.WithMessage(fmt.Sprintf("no replay handler for topic %q", dl.OriginalTopic)))
	}

	if err := a.dlq.MarkProcessed(ctx, id); err != nil {
		return ReplayResult{}, err
	}
	return ReplayResult{Success: true, Message: "replayed"}, nil
}
