// Package outboxstore defines persistence contracts for durable event
// publishing shared by both services' transactional outboxes.
package outboxstore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Event encapsulates a single outbox entry ready to be enqueued in the same
// local transaction as the domain write that produced it.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
}

// EventRecord captures the persisted state of an outbox entry.
type EventRecord struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Store abstracts persistence operations for the outbox. Enqueue is always
// called from within the caller's own local database transaction alongside
// the domain mutation it accompanies; ListPending/MarkPublished drive the
// polling publisher loop.
type Store interface {
	Enqueue(ctx context.Context, evt Event) (EventRecord, error)
	ListPending(ctx context.Context, limit int) ([]EventRecord, error)
	MarkPublished(ctx context.Context, ids []int64) error
}
