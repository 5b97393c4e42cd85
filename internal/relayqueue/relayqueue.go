// Package relayqueue carries payment-confirmation messages from the HTTP
// front door to the consumer that raises them against the engine. Messages
// are opaque byte payloads (JSON on the wire); decoding belongs to the
// consumer so a poison message fails there, not inside the queue.
package relayqueue

import "context"

// Queue is an at-least-once relay queue of opaque messages.
type Queue interface {
	// Enqueue adds a message to the queue. It should respect ctx for
	// cancellation.
	Enqueue(ctx context.Context, payload []byte) error

	// Dequeue removes and returns the next message, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) ([]byte, error)

	// Len returns the approximate number of messages queued.
	Len() int
}
