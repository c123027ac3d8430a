package coordinator

import (
	"context"
	"log"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/moneysaga/engine/internal/domain/events"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/infra/config"
	"github.com/moneysaga/engine/internal/infra/telemetry"
)

// TimeoutRecoverer is a periodic scanner that fails sagas stuck past their
// timeoutAt, compensating DEBITED transfers by driving the Ledger's refund
// path with a synthetic WalletCreditFailed.
type TimeoutRecoverer struct {
	store  saga.Store
	cfg    config.TimeoutScannerConfig
	clock  func() time.Time
	logger *log.Logger

	scanDuration metric.Float64Histogram
	stuckTotal   metric.Int64Counter
}

// NewTimeoutRecoverer constructs the Coordinator's timeout scanner.
func NewTimeoutRecoverer(store saga.Store, cfg config.TimeoutScannerConfig, logger *log.Logger) *TimeoutRecoverer {
	meter := otel.Meter("coordinator.timeout")
	duration, _ := meter.Float64Histogram("coordinator.timeout_scan.duration",
		metric.WithDescription("Stuck-transfer timeout scan duration"), metric.WithUnit("ms"))
	total, _ := meter.Int64Counter("coordinator.timeout_scan.stuck_total",
		metric.WithDescription("Number of stuck transfers failed by the timeout scanner"), metric.WithUnit("{transfer}"))
	return &TimeoutRecoverer{store: store, cfg: cfg, clock: time.Now, logger: logger, scanDuration: duration, stuckTotal: total}
}

// Run polls until ctx is cancelled, sleeping cfg.Period between scans.
func (r *TimeoutRecoverer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

const timeoutScanBatchSize = 100

func (r *TimeoutRecoverer) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r.scanDuration != nil {
			r.scanDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.String("environment", telemetry.Environment())))
		}
	}()

	stuck, err := r.store.ListStuck(ctx, r.clock(), timeoutScanBatchSize)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("timeout recoverer: list stuck: %v", err)
		}
		return
	}

	var recovered int64
	for _, t := range stuck {
		ok, err := r.recover(ctx, t)
		if err != nil {
			if r.logger != nil {
				r.logger.Printf("timeout recoverer: recover %s: %v", t.TransferID, err)
			}
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 && r.stuckTotal != nil {
		r.stuckTotal.Add(ctx, recovered, metric.WithAttributes(attribute.String("environment", telemetry.Environment())))
	}
}

func (r *TimeoutRecoverer) recover(ctx context.Context, t saga.Transfer) (bool, error) {
	now := r.clock().UTC()

	switch t.Status {
	case saga.StatusPending:
		reason := "saga timeout: debit not processed"
		failedPayload, err := json.Marshal(events.TransferFailedPayload{
			Envelope: events.Envelope{TransferID: t.TransferID, Timestamp: now},
			Reason:   reason,
		})
		if err != nil {
			return false, err
		}
		return r.store.Transition(ctx, t.TransferID, saga.StatusPending, saga.StatusFailed, &reason, []outboxstore.Event{
			{AggregateType: "transfer", AggregateID: t.TransferID, EventType: string(events.TransferFailed), Payload: failedPayload},
		})

	case saga.StatusDebited:
		reason := "saga timeout: credit not processed"
		failedPayload, err := json.Marshal(events.TransferFailedPayload{
			Envelope: events.Envelope{TransferID: t.TransferID, Timestamp: now},
			Reason:   reason,
		})
		if err != nil {
			return false, err
		}
		creditFailedPayload, err := json.Marshal(events.WalletCreditFailedPayload{
			Envelope:       events.Envelope{TransferID: t.TransferID, Timestamp: now},
			SenderWalletID: t.SenderWalletID,
			Amount:         int64(t.Amount),
			Reason:         reason,
		})
		if err != nil {
			return false, err
		}
		return r.store.Transition(ctx, t.TransferID, saga.StatusDebited, saga.StatusFailed, &reason, []outboxstore.Event{
			{AggregateType: "transfer", AggregateID: t.TransferID, EventType: string(events.TransferFailed), Payload: failedPayload},
			{AggregateType: "transfer", AggregateID: t.TransferID, EventType: string(events.WalletCreditFailed), Payload: creditFailedPayload},
		})

	default:
		return false, nil
	}
}
