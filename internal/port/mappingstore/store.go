// Package mappingstore defines the port for old→new session mappings.
package mappingstore

import (
	"context"

	"github.com/formpilot/formpilot/internal/domain/session"
)

// Store persists successor mappings for terminal sessions. Put is
// last-writer-wins: two near-simultaneous replacements of the same dead
// session may briefly hand out different successor IDs, an accepted
// bounded inconsistency.
type Store interface {
	// Get returns the mapping for oldID, or an error wrapping
	// domain.ErrNotFound when no successor has been recorded.
	Get(ctx context.Context, oldID string) (*session.Mapping, error)

	// Put records a mapping, overwriting any existing one.
	Put(ctx context.Context, m session.Mapping) error
}
