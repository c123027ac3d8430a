package coordinator

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/infra/broker"
	"github.com/moneysaga/engine/internal/infra/config"
	"github.com/moneysaga/engine/internal/infra/telemetry"
)

// Publisher is the periodic outbox-draining task: select pending records
// under skip-locked visibility, emit each to the broker, mark the
// successes published.
type Publisher struct {
	store  outboxstore.Store
	bus    broker.Broker
	cfg    config.OutboxConfig
	logger *log.Logger

	publishDuration metric.Float64Histogram
	publishedTotal  metric.Int64Counter
}

// NewPublisher constructs the Coordinator's outbox publisher.
func NewPublisher(store outboxstore.Store, bus broker.Broker, cfg config.OutboxConfig, logger *log.Logger) *Publisher {
	meter := otel.Meter("coordinator.outbox")
	duration, _ := meter.Float64Histogram("outbox.publish.duration",
		metric.WithDescription("Outbox poll-and-publish batch duration"), metric.WithUnit("ms"))
	total, _ := meter.Int64Counter("outbox.published.total",
		metric.WithDescription("Number of outbox records marked published"), metric.WithUnit("{record}"))
	return &Publisher{store: store, bus: bus, cfg: cfg, logger: logger, publishDuration: duration, publishedTotal: total}
}

// Run polls until ctx is cancelled, sleeping cfg.PollInterval between ticks.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if p.publishDuration != nil {
			p.publishDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.String("environment", telemetry.Environment())))
		}
	}()

	records, err := p.store.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("outbox publisher: list pending: %v", err)
		}
		return
	}
	if len(records) == 0 {
		return
	}

	published := make([]int64, 0, len(records))
	for _, rec := range records {
		msg := broker.Message{Topic: rec.EventType, Key: rec.AggregateID, Payload: rec.Payload}
		if err := p.bus.Publish(ctx, msg); err != nil {
			if p.logger != nil {
				p.logger.Printf("outbox publisher: publish %s/%s: %v", rec.EventType, rec.AggregateID, err)
			}
			continue
		}
		published = append(published, rec.ID)
	}

	if len(published) == 0 {
		return
	}
	if err := p.store.MarkPublished(ctx, published); err != nil {
		if p.logger != nil {
			p.logger.Printf("outbox publisher: mark published: %v", err)
		}
		return
	}
	if p.publishedTotal != nil {
		p.publishedTotal.Add(ctx, int64(len(published)),
			metric.WithAttributes(attribute.String("environment", telemetry.Environment())))
	}
}
