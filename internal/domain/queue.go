package domain

import "context"

// QueuedMessage is a deferred delivery. Body is the untouched inbound envelope.
// GroupID is only set for strictly ordered queues.
type QueuedMessage struct {
	Body    []byte
	GroupID string
}

// Queue is a durable, at-least-once queue.
type Queue interface {
	Enqueue(ctx context.Context, msg QueuedMessage) error
	// Ordered reports whether the queue enforces per-group ordering.
	Ordered() bool
}

// RecordHandler processes one queued envelope. A nil error removes the
// message from the queue; anything else leaves it for redelivery.
type RecordHandler func(ctx context.Context, body []byte) error
