package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/field"
)

// UpsertFields merges values last-write-wins. A replayed eventID is a no-op.
func (s *Store) UpsertFields(ctx context.Context, sessionID, eventID string, values []field.Value) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert fields: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := markApplied(ctx, tx, sessionID, eventID, kindFields)
	if err != nil {
		return fmt.Errorf("upsert fields: %w", err)
	}
	if !fresh {
		return tx.Commit(ctx)
	}

	if err := upsertAll(ctx, tx, sessionID, values); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetFields returns the full field store.
func (s *Store) GetFields(ctx context.Context, sessionID string) (field.Store, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_name, value, note, inferred, drafted
		 FROM session_fields WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}
	defer rows.Close()

	store := make(field.Store)
	for rows.Next() {
		var v field.Value
		if err := rows.Scan(&v.Name, &v.Value, &v.Note, &v.Inferred, &v.Drafted); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		store.Set(v)
	}
	return store, rows.Err()
}

// ReplaceFields replaces the whole field store.
func (s *Store) ReplaceFields(ctx context.Context, sessionID string, values []field.Value) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace fields: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_fields WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("replace fields: clear: %w", err)
	}
	if err := upsertAll(ctx, tx, sessionID, values); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RemoveField deletes one field by name.
func (s *Store) RemoveField(ctx context.Context, sessionID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_fields WHERE session_id = $1 AND name = $2`,
		sessionID, field.Key(name))
	if err != nil {
		return fmt.Errorf("remove field %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove field %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// ClearFields deletes all fields for the session.
func (s *Store) ClearFields(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM session_fields WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}
	return nil
}

func upsertAll(ctx context.Context, tx pgx.Tx, sessionID string, values []field.Value) error {
	for _, v := range values {
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_fields (session_id, name, field_name, value, note, inferred, drafted)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, name) DO UPDATE
			 SET field_name = EXCLUDED.field_name, value = EXCLUDED.value, note = EXCLUDED.note,
			     inferred = EXCLUDED.inferred, drafted = EXCLUDED.drafted, updated_at = now()`,
			sessionID, field.Key(v.Name), v.Name, v.Value, v.Note, v.Inferred, v.Drafted); err != nil {
			return fmt.Errorf("upsert field %s: %w", v.Name, err)
		}
	}
	return nil
}
