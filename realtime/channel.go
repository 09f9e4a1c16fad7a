// Package realtime is the client side of the TeamSphere socket channel: one
// long-lived duplex connection that joins the per-user room on every
// (re)connect and relays typed events to subscribers.
package realtime

import "context"

// Channel is the event surface the rest of the client programs against. The
// production implementation is *Socket; tests use *Fake. Delivery is best
// effort in both directions; the UI reconciles through refetches, never by
// trusting a push payload alone.
type Channel interface {
	// Connect establishes the connection and keeps it alive until Close or
	// until the bounded reconnect budget is exhausted. The provided context
	// cancels the connection and all reconnect attempts.
	Connect(ctx context.Context) error
	// Close tears the connection down. Emits after Close fail.
	Close() error

	// Emit sends one event frame. It fails when the channel is not connected;
	// no buffering or redelivery is attempted.
	Emit(event string, payload any) error
	// Subscribe registers fn for an inbound event name and returns the
	// function that removes the subscription. The raw payload bytes are passed
	// through; callers decode into their typed payload.
	Subscribe(event string, fn func(data []byte)) (off func())
}
