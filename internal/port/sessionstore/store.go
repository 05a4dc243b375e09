// Package sessionstore defines the port for the durable session entities.
// Each session owns three independently addressable slices of state:
// control state, the history log, and the field store. Writes to history
// and fields arrive only from the orchestration loop; reads may come
// directly from the boundary layer.
package sessionstore

import (
	"context"

	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/session"
)

// Store is the port interface for session state persistence.
type Store interface {
	// CreateSession persists a new session's control state.
	CreateSession(ctx context.Context, s *session.Session) error

	// GetSession returns control state by ID, including runtime status.
	GetSession(ctx context.Context, id string) (*session.Session, error)

	// UpdateSnapshot persists the externally observable status snapshot.
	UpdateSnapshot(ctx context.Context, id string, snap session.Snapshot) error

	// SetStatus records a runtime status transition.
	SetStatus(ctx context.Context, id string, status session.RuntimeStatus) error

	// AppendHistory appends lines in order. Appends for an eventID that
	// was already applied are silently skipped, making replay idempotent.
	AppendHistory(ctx context.Context, sessionID, eventID string, lines []string) error

	// GetHistory returns the full ordered history.
	GetHistory(ctx context.Context, sessionID string) ([]string, error)

	// HistoryLength returns the current number of history lines.
	HistoryLength(ctx context.Context, sessionID string) (int, error)

	// TruncateHistory drops all but the newest keep lines.
	TruncateHistory(ctx context.Context, sessionID string, keep int) error

	// UpsertFields merges values last-write-wins. Same event dedup rule
	// as AppendHistory.
	UpsertFields(ctx context.Context, sessionID, eventID string, values []field.Value) error

	// GetFields returns the full field store.
	GetFields(ctx context.Context, sessionID string) (field.Store, error)

	// ReplaceFields replaces the whole field store.
	ReplaceFields(ctx context.Context, sessionID string, values []field.Value) error

	// RemoveField deletes one field by name.
	RemoveField(ctx context.Context, sessionID, name string) error

	// ClearFields deletes all fields for the session.
	ClearFields(ctx context.Context, sessionID string) error
}
