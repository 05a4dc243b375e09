package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/formpilot/formpilot/internal/adapter/otel"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/session"
	"github.com/formpilot/formpilot/internal/domain/transcript"
	"github.com/formpilot/formpilot/internal/port/broadcast"
	"github.com/formpilot/formpilot/internal/port/mappingstore"
	"github.com/formpilot/formpilot/internal/port/sessionstore"
)

// GoneError signals that a session is terminal and carries the successor
// the caller should retry against. It wraps domain.ErrGone.
type GoneError struct {
	OldID string
	NewID string
}

func (e *GoneError) Error() string {
	return fmt.Sprintf("session %s is terminal, replaced by %s", e.OldID, e.NewID)
}

func (e *GoneError) Unwrap() error { return domain.ErrGone }

// LifecycleService detects terminal sessions and transparently creates
// successors. Mapping writes are last-writer-wins: two racing requests
// against the same dead session may briefly see different successors,
// after which the mapping converges on one.
type LifecycleService struct {
	store    sessionstore.Store
	mappings mappingstore.Store
	hub      broadcast.Broadcaster
	metrics  *otel.Metrics
	now      func() time.Time
	newID    func() string
}

// NewLifecycleService creates the lifecycle manager.
func NewLifecycleService(store sessionstore.Store, mappings mappingstore.Store, hub broadcast.Broadcaster, metrics *otel.Metrics) *LifecycleService {
	return &LifecycleService{
		store:    store,
		mappings: mappings,
		hub:      hub,
		metrics:  metrics,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Create starts a brand-new session. ID and creation time are generated
// here, at the boundary of the replayed core.
func (s *LifecycleService) Create(ctx context.Context, formCode, version string) (*session.Session, error) {
	sess := &session.Session{
		ID:       s.newID(),
		FormCode: formCode,
		Version:  version,
		Status:   session.StatusRunning,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Info("session created", "session_id", sess.ID, "form", formCode, "version", version)
	return sess, nil
}

// Resolve returns the live session for id. For a terminal session it
// returns a *GoneError carrying the successor ID, creating the successor
// idempotently if none exists yet.
func (s *LifecycleService) Resolve(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		return sess, nil
	}

	newID, err := s.replace(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("replace session %s: %w", id, err)
	}
	return nil, &GoneError{OldID: id, NewID: newID}
}

// Terminate explicitly ends a session. Subsequent requests receive a
// successor via Resolve.
func (s *LifecycleService) Terminate(ctx context.Context, id string) error {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}
	return s.store.SetStatus(ctx, id, session.StatusTerminated)
}

// replace finds or creates the successor for a terminal session.
// The existing-mapping check first makes concurrent replacement
// idempotent in the common case.
func (s *LifecycleService) replace(ctx context.Context, old *session.Session) (string, error) {
	if m, err := s.mappings.Get(ctx, old.ID); err == nil {
		return m.NewID, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	// Seed the successor with the last known control state; history and
	// fields start fresh under the new identity.
	succ := &session.Session{
		ID:          s.newID(),
		FormCode:    old.FormCode,
		Version:     old.Version,
		LastMessage: old.LastMessage,
		Status:      session.StatusRunning,
	}
	if err := s.store.CreateSession(ctx, succ); err != nil {
		return "", fmt.Errorf("create successor: %w", err)
	}

	// A durable marker so the responder knows the conversation starts
	// mid-stream rather than from a blank form.
	resumed := transcript.SystemLine("conversation resumed from a replaced session")
	if err := s.store.AppendHistory(ctx, succ.ID, succ.ID, []string{resumed}); err != nil {
		return "", fmt.Errorf("seed successor history: %w", err)
	}

	m := session.Mapping{OldID: old.ID, NewID: succ.ID, CreatedAt: s.now()}
	if err := s.mappings.Put(ctx, m); err != nil {
		return "", fmt.Errorf("persist mapping: %w", err)
	}

	// Re-read: if another request won the race, defer to its successor.
	if cur, err := s.mappings.Get(ctx, old.ID); err == nil && cur.NewID != succ.ID {
		return cur.NewID, nil
	}

	slog.Info("session replaced", "old_id", old.ID, "new_id", succ.ID, "status", old.Status)
	if s.metrics != nil {
		s.metrics.SessionsReplaced.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventSessionReplaced, map[string]string{
			"session_id": old.ID,
			"new_id":     succ.ID,
		})
	}
	return succ.ID, nil
}
