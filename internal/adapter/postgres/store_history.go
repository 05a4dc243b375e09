package postgres

import (
	"context"
	"fmt"
)

const (
	kindHistory = "history"
	kindFields  = "fields"
)

// AppendHistory appends lines in order with per-session monotonic
// sequence numbers. A replayed eventID is a no-op.
func (s *Store) AppendHistory(ctx context.Context, sessionID, eventID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := markApplied(ctx, tx, sessionID, eventID, kindHistory)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if !fresh {
		return tx.Commit(ctx)
	}

	var next int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_history WHERE session_id = $1`,
		sessionID).Scan(&next)
	if err != nil {
		return fmt.Errorf("append history: next seq: %w", err)
	}

	for i, line := range lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_history (session_id, seq, line) VALUES ($1, $2, $3)`,
			sessionID, next+int64(i), line); err != nil {
			return fmt.Errorf("append history: insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetHistory returns the full ordered history.
func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT line FROM session_history WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan history line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// HistoryLength returns the current number of history lines.
func (s *Store) HistoryLength(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_history WHERE session_id = $1`,
		sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history length: %w", err)
	}
	return n, nil
}

// TruncateHistory drops all but the newest keep lines. Sequence numbers
// of surviving lines are preserved; only a prefix is removed.
func (s *Store) TruncateHistory(ctx context.Context, sessionID string, keep int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM session_history
		 WHERE session_id = $1 AND seq NOT IN (
			SELECT seq FROM session_history WHERE session_id = $1
			ORDER BY seq DESC LIMIT $2
		 )`,
		sessionID, keep)
	if err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	return nil
}
