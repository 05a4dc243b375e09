package ws

import (
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/session"
)

// SnapshotEvent is broadcast after the orchestrator persists a session's
// status snapshot.
type SnapshotEvent struct {
	SessionID string           `json:"session_id"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

// FieldsEvent is broadcast when field values change.
type FieldsEvent struct {
	SessionID string        `json:"session_id"`
	Changed   []field.Value `json:"changed"`
}

// ReplacedEvent is broadcast when a terminal session gets a successor.
type ReplacedEvent struct {
	SessionID string `json:"session_id"`
	NewID     string `json:"new_id"`
}
