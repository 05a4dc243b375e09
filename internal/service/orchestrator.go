package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/formpilot/formpilot/internal/adapter/otel"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain/event"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/session"
	"github.com/formpilot/formpilot/internal/port/broadcast"
	"github.com/formpilot/formpilot/internal/port/messagequeue"
	"github.com/formpilot/formpilot/internal/port/sessionstore"
)

// formActionNote is appended to the provenance note of fields updated
// through an explicit form action rather than extraction.
const formActionNote = "via form action"

// OrchestratorService owns the per-session event loops. Each session has
// at most one live instance; all entity mutation for a session flows
// through its instance's single goroutine, so field and history races
// are structurally impossible within a session.
type OrchestratorService struct {
	store   sessionstore.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	cfg     config.Session

	mu        sync.Mutex
	instances map[string]*instance
	wg        sync.WaitGroup
}

// instance is one session's event loop: a mailbox and the goroutine
// draining it. The loop's only stable state is waiting on the mailbox.
type instance struct {
	sessionID string
	mailbox   chan delivery
	cancel    context.CancelFunc
}

// delivery pairs an envelope with the channel its outcome is reported
// on. The queue must not ack an envelope until that outcome is known.
type delivery struct {
	env  event.Envelope
	done chan error
}

// NewOrchestratorService creates the orchestrator.
func NewOrchestratorService(store sessionstore.Store, queue messagequeue.Queue, hub broadcast.Broadcaster, metrics *otel.Metrics, cfg config.Session) *OrchestratorService {
	return &OrchestratorService{
		store:     store,
		queue:     queue,
		hub:       hub,
		metrics:   metrics,
		cfg:       cfg,
		instances: make(map[string]*instance),
	}
}

// Start subscribes to the session event stream and begins routing
// envelopes into per-session mailboxes. The returned cancel stops the
// subscription; Stop shuts down the instances.
func (s *OrchestratorService) Start(ctx context.Context) (func(), error) {
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectSessionEvents, func(ctx context.Context, subject string, data []byte) error {
		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Undecodable envelopes can never succeed; drop instead of redelivering forever.
			slog.Error("orchestrator: bad envelope", "subject", subject, "error", err)
			return nil
		}
		return s.Deliver(ctx, env)
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator subscribe: %w", err)
	}
	return cancel, nil
}

// Deliver routes an envelope to the session's mailbox, spawning the
// instance if needed, and returns only once the event has been applied.
// The queue acks on a nil return, so an envelope is never acked before
// it reaches durable state. A full mailbox is an error so the queue
// redelivers later; the entity store's dedup keeps redelivery idempotent.
func (s *OrchestratorService) Deliver(ctx context.Context, env event.Envelope) error {
	if env.SessionID == "" {
		slog.Warn("orchestrator: envelope without session, dropped", "type", env.Type)
		return nil
	}

	d := delivery{env: env, done: make(chan error, 1)}

	// Enqueue under the registry lock: a retiring instance drains its
	// mailbox under the same lock, so a delivery lands either in a live
	// loop or in the drain's failure pass, never in a dead channel.
	s.mu.Lock()
	in := s.instanceLocked(env.SessionID)
	select {
	case in.mailbox <- d:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return fmt.Errorf("session %s: mailbox full", env.SessionID)
	}

	select {
	case err := <-d.done:
		return err
	case <-ctx.Done():
		// The caller gave up waiting; the loop may still apply the
		// envelope, and the resulting redelivery dedups to a no-op.
		return ctx.Err()
	}
}

// instanceLocked returns the session's live instance, spawning one if
// needed. Callers must hold s.mu.
func (s *OrchestratorService) instanceLocked(sessionID string) *instance {
	if in, ok := s.instances[sessionID]; ok {
		return in
	}

	ctx, cancel := context.WithCancel(context.Background())
	in := &instance{
		sessionID: sessionID,
		mailbox:   make(chan delivery, s.cfg.MailboxSize),
		cancel:    cancel,
	}
	s.instances[sessionID] = in

	s.wg.Add(1)
	go s.run(ctx, in)
	return in
}

// Stop cancels all instances and waits for their loops to exit.
func (s *OrchestratorService) Stop() {
	s.mu.Lock()
	for _, in := range s.instances {
		in.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *OrchestratorService) retire(in *instance) {
	s.mu.Lock()
	if cur, ok := s.instances[in.sessionID]; ok && cur == in {
		delete(s.instances, in.sessionID)
	}
	// Fail anything still buffered so those envelopes are NAKed and
	// redelivered to a fresh instance instead of dying with this one.
	for {
		select {
		case d := <-in.mailbox:
			d.done <- fmt.Errorf("session %s: instance stopped", in.sessionID)
		default:
			s.mu.Unlock()
			in.cancel()
			return
		}
	}
}

// run is the session event loop. Each iteration waits for exactly one
// envelope, dispatches it, persists the status snapshot, and applies the
// history compaction policy. An idle instance is retired; a later event
// spawns a fresh one from durable state, so retiring loses nothing.
func (s *OrchestratorService) run(ctx context.Context, in *instance) {
	defer s.wg.Done()
	defer s.retire(in)

	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			slog.Debug("session instance idle, retiring", "session_id", in.sessionID)
			return
		case d := <-in.mailbox:
			err := s.process(ctx, in.sessionID, d.env)
			if err != nil {
				// An event that cannot be applied leaves the session
				// unrecoverable; the lifecycle manager will replace it.
				slog.Error("session event failed", "session_id", in.sessionID, "event_id", d.env.ID, "type", d.env.Type, "error", err)
				if err := s.store.SetStatus(ctx, in.sessionID, session.StatusFailed); err != nil {
					slog.Error("mark session failed", "session_id", in.sessionID, "error", err)
				}
				d.done <- err
				return
			}
			d.done <- nil
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleTimeout)
		}
	}
}

// process applies one envelope: dispatch, snapshot persistence, compaction.
func (s *OrchestratorService) process(ctx context.Context, sessionID string, env event.Envelope) error {
	ctx, span := otel.StartEventSpan(ctx, sessionID, env.ID, string(env.Type))
	defer span.End()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	snap := session.Snapshot{
		FormCode:        sess.FormCode,
		Version:         sess.Version,
		LastMessage:     sess.LastMessage,
		Token:           sess.Token,
		TokenExpiration: sess.TokenExpiration,
	}

	var changed []field.Value

	switch env.Type {
	case event.TypeMessage:
		var p event.MessagePayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		if err := s.store.AppendHistory(ctx, sessionID, env.ID, p.Messages); err != nil {
			return err
		}
		if len(p.FieldCompletions) > 0 {
			if err := s.store.UpsertFields(ctx, sessionID, env.ID, p.FieldCompletions); err != nil {
				return err
			}
			changed = p.FieldCompletions
		}
		if len(p.Messages) > 0 {
			snap.LastMessage = p.Messages[len(p.Messages)-1]
		}

	case event.TypeFormAction:
		var p event.FormActionPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		values := make([]field.Value, len(p.NewFieldValues))
		for i, v := range p.NewFieldValues {
			if v.Note == "" {
				v.Note = formActionNote
			} else {
				v.Note = v.Note + " (" + formActionNote + ")"
			}
			values[i] = v
		}
		if err := s.store.UpsertFields(ctx, sessionID, env.ID, values); err != nil {
			return err
		}
		if err := s.store.AppendHistory(ctx, sessionID, env.ID, p.Messages); err != nil {
			return err
		}
		changed = values

	case event.TypeTokenUpdate:
		var p event.TokenUpdatePayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		// Last writer wins, no merge.
		snap.Token = p.Token
		snap.TokenExpiration = p.Expiration

	case event.TypeInvalidInput:
		var p event.InvalidInputPayload
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		if len(p.Messages) > 0 {
			snap.LastMessage = p.Messages[len(p.Messages)-1]
		}

	default:
		slog.Warn("unknown session event, ignored", "session_id", sessionID, "type", env.Type)
		if s.metrics != nil {
			s.metrics.EventsUnknown.Add(ctx, 1)
		}
		return nil
	}

	if err := s.store.UpdateSnapshot(ctx, sessionID, snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.EventsProcessed.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventSessionSnapshot, snapshotEvent{SessionID: sessionID, Snapshot: snap})
		if len(changed) > 0 {
			s.hub.BroadcastEvent(ctx, broadcast.EventSessionFields, fieldsEvent{SessionID: sessionID, Changed: changed})
		}
	}

	return s.compactIfNeeded(ctx, sessionID)
}

// compactIfNeeded truncates history once it reaches the high-water mark.
// Compaction is the explicit restart transition: the loop's durable input
// shrinks to the newest lines and the instance immediately re-enters its
// wait state with fields and control state untouched.
func (s *OrchestratorService) compactIfNeeded(ctx context.Context, sessionID string) error {
	n, err := s.store.HistoryLength(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("history length: %w", err)
	}
	if n < s.cfg.HistoryHighWater {
		return nil
	}

	if err := s.store.TruncateHistory(ctx, sessionID, s.cfg.HistoryKeep); err != nil {
		return fmt.Errorf("compact history: %w", err)
	}

	slog.Info("history compacted", "session_id", sessionID, "before", n, "kept", s.cfg.HistoryKeep)
	if s.metrics != nil {
		s.metrics.Compactions.Add(ctx, 1)
	}
	return nil
}

// snapshotEvent and fieldsEvent mirror the ws adapter payloads without
// importing it; the broadcast port only needs a marshalable shape.
type snapshotEvent struct {
	SessionID string           `json:"session_id"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

type fieldsEvent struct {
	SessionID string        `json:"session_id"`
	Changed   []field.Value `json:"changed"`
}
