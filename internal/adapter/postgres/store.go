package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/session"
)

// Store implements sessionstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateSession persists a new session's control state.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	var exp any
	if !sess.TokenExpiration.IsZero() {
		exp = sess.TokenExpiration
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, form_code, version, last_message, token, token_expiration, command, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		sess.ID, sess.FormCode, sess.Version, sess.LastMessage, sess.Token, exp, sess.Command, sess.Status,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns control state by ID, including runtime status.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var sess session.Session
	var exp sql.NullTime
	err := s.pool.QueryRow(ctx,
		`SELECT id, form_code, version, last_message, token, token_expiration, command, status, created_at, updated_at
		 FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.FormCode, &sess.Version, &sess.LastMessage, &sess.Token, &exp, &sess.Command, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if exp.Valid {
		sess.TokenExpiration = exp.Time
	}
	return &sess, nil
}

// UpdateSnapshot persists the externally observable status snapshot.
func (s *Store) UpdateSnapshot(ctx context.Context, id string, snap session.Snapshot) error {
	var exp any
	if !snap.TokenExpiration.IsZero() {
		exp = snap.TokenExpiration
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions
		 SET last_message = $2, token = $3, token_expiration = $4, updated_at = now()
		 WHERE id = $1`,
		id, snap.LastMessage, snap.Token, exp)
	if err != nil {
		return fmt.Errorf("update snapshot %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update snapshot %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetStatus records a runtime status transition.
func (s *Store) SetStatus(ctx context.Context, id string, status session.RuntimeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// markApplied records that (eventID, kind) was applied to the session.
// Returns false when the event was already applied, so callers can skip
// re-applying a replayed delivery.
func markApplied(ctx context.Context, tx pgx.Tx, sessionID, eventID, kind string) (bool, error) {
	if eventID == "" {
		// Direct writes (not event-driven) are not deduplicated.
		return true, nil
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO session_events_applied (session_id, event_id, kind)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		sessionID, eventID, kind)
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
