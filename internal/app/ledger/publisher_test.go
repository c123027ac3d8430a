package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/infra/broker"
	"github.com/moneysaga/engine/internal/infra/config"
)

type fakeOutboxStore struct {
	mu      sync.Mutex
	records []outboxstore.EventRecord
	nextID  int64
}

func (s *fakeOutboxStore) Enqueue(_ context.Context, evt outboxstore.Event) (outboxstore.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := outboxstore.EventRecord{ID: s.nextID, AggregateType: evt.AggregateType, AggregateID: evt.AggregateID, EventType: evt.EventType, Payload: evt.Payload}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *fakeOutboxStore) ListPending(_ context.Context, limit int) ([]outboxstore.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []outboxstore.EventRecord
	for _, rec := range s.records {
		if rec.PublishedAt == nil {
			pending = append(pending, rec)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *fakeOutboxStore) MarkPublished(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	for i, rec := range s.records {
		if idSet[rec.ID] {
			t := now
			s.records[i].PublishedAt = &t
		}
	}
	return nil
}

type fakeBroker struct {
	mu         sync.Mutex
	published  []broker.Message
	publishErr error
}

func (b *fakeBroker) Publish(_ context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Subscribe(string, broker.Handler) {}
func (b *fakeBroker) Run(ctx context.Context) error    { <-ctx.Done(); return nil }
func (b *fakeBroker) Close()                           {}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestLedgerPublisherTickPublishesAndMarksPending(t *testing.T) {
	store := &fakeOutboxStore{}
	_, _ = store.Enqueue(context.Background(), outboxstore.Event{AggregateType: "wallet", AggregateID: "t1", EventType: "wallet.debited", Payload: []byte(`{}`)})
	bus := &fakeBroker{}
	p := NewPublisher(store, bus, config.OutboxConfig{BatchSize: 10}, nil)

	p.tick(context.Background())

	require.Equal(t, 1, bus.count())
	pending, err := store.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestLedgerPublisherTickLeavesUnpublishedOnBrokerError(t *testing.T) {
	store := &fakeOutboxStore{}
	_, _ = store.Enqueue(context.Background(), outboxstore.Event{AggregateType: "wallet", AggregateID: "t1", EventType: "wallet.debited", Payload: []byte(`{}`)})
	bus := &fakeBroker{publishErr: errors.New("broker unavailable")}
	p := NewPublisher(store, bus, config.OutboxConfig{BatchSize: 10}, nil)

	p.tick(context.Background())

	pending, err := store.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
