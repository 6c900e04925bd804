// Package queue is the transport between job producers and workers. It
// offers at-least-once delivery: a received message stays owned by the
// queue until it is acknowledged, and is redelivered otherwise.
package queue

import (
	"context"
	"time"
)

// Message is one delivery of a queued job body.
type Message struct {
	// ID identifies the message across deliveries.
	ID string
	// Body is the raw job payload.
	Body []byte
	// Handle is the delivery-specific token used to ack or release.
	Handle string
	// Deliveries counts how many times the message has been handed out,
	// including this one.
	Deliveries int
}

// Queue is the consumer side of a job queue.
type Queue interface {
	// Receive waits up to the configured long-poll time for one message.
	// It returns (nil, nil) when the wait elapses with nothing available.
	Receive(ctx context.Context) (*Message, error)
	// Ack permanently removes the message.
	Ack(ctx context.Context, msg *Message) error
	// Release makes the message visible again after delay.
	Release(ctx context.Context, msg *Message, delay time.Duration) error
	// DeadLetter moves the message out of the work queue for inspection.
	DeadLetter(ctx context.Context, msg *Message, reason string) error
}

// Producer is the sending side of a job queue.
type Producer interface {
	Send(ctx context.Context, body []byte) (string, error)
}
