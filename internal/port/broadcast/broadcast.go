// Package broadcast defines the port for pushing session updates to observers.
package broadcast

import "context"

// Broadcaster pushes typed events to all connected observers. Delivery
// is best effort; slow observers are dropped, never block the caller.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event type constants for observer messages.
const (
	EventSessionSnapshot = "session.snapshot"
	EventSessionFields   = "session.fields"
	EventSessionReplaced = "session.replaced"
)
