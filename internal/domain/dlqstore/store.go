// Package dlqstore defines persistence contracts for the Ledger's
// dead-letter queue: terminal quarantine for exhausted compensation retries.
package dlqstore

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// Status is a closed enumeration over a DeadLetter's lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

// DeadLetter records a broker message whose in-process retries were exhausted.
type DeadLetter struct {
	ID              int64
	OriginalTopic   string
	OriginalPayload json.RawMessage
	ErrorMessage    string
	ErrorStack      string
	AttemptCount    int
	Status          Status
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// Store abstracts persistence for the dead-letter queue.
type Store interface {
	Insert(ctx context.Context, dl DeadLetter) (DeadLetter, error)
	// List returns dead letters newest-first, optionally filtered by status.
	List(ctx context.Context, status *Status) ([]DeadLetter, error)
	Get(ctx context.Context, id int64) (DeadLetter, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}
