// Package broker abstracts the topic-partitioned, keyed, at-least-once
// message log the two services choreograph over. The wire protocol itself
// is out of scope; this package defines the contract every publisher and
// consumer in the module programs against, plus one in-memory
// implementation suitable for tests and single-process deployments.
package broker

import "context"

// Message is a single broker record: a topic, a partitioning key, and an
// opaque payload. Key equality determines partition assignment, which is
// what preserves per-transferId ordering.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Handler processes one delivered message. A non-nil error does not stop
// the broker or the partition it was delivered on; MemoryBus logs the error
// and moves to the next message rather than requeuing it, so any handler
// that needs at-least-once semantics (bounded retry, dead-lettering) must
// implement that itself, the way the ledger's compensation handler does.
type Handler func(ctx context.Context, msg Message) error

// Broker is the interface both services' publishers and consumers use.
type Broker interface {
	// Publish enqueues msg for delivery to every handler subscribed to
	// msg.Topic. It returns once the message is durably enqueued for
	// delivery, not once delivery completes.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers handler for topic. Subscriptions must be
	// registered before Run is called.
	Subscribe(topic string, handler Handler)

	// Run starts delivering to subscribed handlers until ctx is cancelled
	// or Close is called.
	Run(ctx context.Context) error

	// Close stops delivery. It returns without waiting for a handler call
	// already in progress to finish.
	Close()
}
