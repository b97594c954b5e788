package queue

import (
	"context"
	"errors"
	"time"
)

// ErrStaleReceipt is returned when a renew or delete names a receipt that is
// no longer current. Every successful renewal invalidates the prior receipt,
// so a stale receipt means another renewal happened — or the lease expired
// and the message was handed to someone else.
var ErrStaleReceipt = errors.New("stale receipt")

// Message is a received queue message together with the receipt for the
// lease currently held on it.
type Message struct {
	ID         int64
	Queue      string
	Body       string
	Receipt    string
	EnqueuedAt time.Time
}

// Queue provides at-least-once message delivery with per-message lease
// (visibility timeout) semantics. The lease is the only cross-worker
// mutual-exclusion primitive: while one worker holds a valid receipt, no
// other worker receives the message.
type Queue interface {
	// Enqueue adds a message body to the named queue.
	Enqueue(ctx context.Context, queueName, body string) error

	// Receive claims the oldest visible message on the named queue and hides
	// it for the lease duration. Returns nil when the queue is empty.
	Receive(ctx context.Context, queueName string, lease time.Duration) (*Message, error)

	// Renew extends the lease identified by receipt and returns a fresh
	// receipt, invalidating the old one.
	Renew(ctx context.Context, receipt string, lease time.Duration) (string, error)

	// Delete removes the message identified by receipt. A stale receipt is
	// rejected, never silently accepted.
	Delete(ctx context.Context, receipt string) error

	Close() error
}
