package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/telemetry"
)

// MemoryConfig configures the in-memory partitioned bus.
type MemoryConfig struct {
	Partitions int
	QueueSize  int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// MemoryBus is a single-process broker that fans messages out to registered
// handlers, preserving per-key delivery order by routing every message with
// the same Key to the same partition and draining each partition with
// exactly one goroutine.
type MemoryBus struct {
	cfg        MemoryConfig
	partitions []chan Message

	mu       sync.RWMutex
	handlers map[string][]Handler

	closeOnce sync.Once
	closed    chan struct{}

	publishedCounter     metric.Int64Counter
	deliveryErrorCounter metric.Int64Counter
	deliveryDuration     metric.Float64Histogram
}

// NewMemoryBus constructs a partitioned in-memory broker.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	b := &MemoryBus{
		cfg:      cfg,
		handlers: make(map[string][]Handler),
		closed:   make(chan struct{}),
	}
	b.partitions = make([]chan Message, cfg.Partitions)
	for i := range b.partitions {
		b.partitions[i] = make(chan Message, cfg.QueueSize)
	}

	meter := otel.Meter("broker")
	b.publishedCounter, _ = meter.Int64Counter("broker.messages.published",
		metric.WithDescription("Number of messages published to the broker"),
		metric.WithUnit("{message}"))
	b.deliveryErrorCounter, _ = meter.Int64Counter("broker.delivery.errors",
		metric.WithDescription("Number of handler delivery errors"),
		metric.WithUnit("{error}"))
	b.deliveryDuration, _ = meter.Float64Histogram("broker.delivery.duration",
		metric.WithDescription("Latency of broker handler delivery"),
		metric.WithUnit("ms"))

	return b
}

// Subscribe registers handler for topic. Not safe to call concurrently with Run.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	if topic == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish routes msg to the partition owning msg.Key.
func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return errs.New("broker/publish", errs.CodeValidation, errs.WithMessage("topic required"))
	}
	idx := partitionFor(msg.Key, len(b.partitions))
	select {
	case <-b.closed:
		return errs.New("broker/publish", errs.CodeUnavailable, errs.WithMessage("broker closed"))
	default:
	}
	select {
	case b.partitions[idx] <- msg:
		if b.publishedCounter != nil {
			b.publishedCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("environment", telemetry.Environment()),
				attribute.String("topic", msg.Topic)))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return errs.New("broker/publish", errs.CodeUnavailable, errs.WithMessage("broker closed"))
	}
}

// Run drains every partition concurrently until ctx is cancelled or Close is called.
func (b *MemoryBus) Run(ctx context.Context) error {
	var wg conc.WaitGroup
	for i := range b.partitions {
		idx := i
		wg.Go(func() { b.drainPartition(ctx, idx) })
	}
	wg.Wait()
	return ctx.Err()
}

func (b *MemoryBus) drainPartition(ctx context.Context, idx int) {
	queue := b.partitions[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case msg := <-queue:
			b.deliver(ctx, msg)
		}
	}
}

func (b *MemoryBus) deliver(ctx context.Context, msg Message) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[msg.Topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		start := time.Now()
		err := h(ctx, msg)
		if b.deliveryDuration != nil {
			b.deliveryDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("environment", telemetry.Environment()),
				attribute.String("topic", msg.Topic)))
		}
		if err != nil {
			log.Printf("broker: handler error topic=%s key=%s: %v", msg.Topic, msg.Key, err)
			if b.deliveryErrorCounter != nil {
				b.deliveryErrorCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("environment", telemetry.Environment()),
					attribute.String("topic", msg.Topic)))
			}
		}
	}
}

// Close stops accepting new partition assignments. In-flight deliveries in
// drainPartition observe closed and return promptly.
func (b *MemoryBus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

func partitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	if key == "" {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

var _ Broker = (*MemoryBus)(nil)
