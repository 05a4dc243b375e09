// Package http is the HTTP boundary of FormPilot. Handlers read session
// state directly but route every mutation through the message queue, so
// per-session ordering stays with the orchestration loop.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formpilot/formpilot/internal/domain/event"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/session"
	"github.com/formpilot/formpilot/internal/domain/transcript"
	"github.com/formpilot/formpilot/internal/port/messagequeue"
	"github.com/formpilot/formpilot/internal/port/sessionstore"
	"github.com/formpilot/formpilot/internal/service"
)

// Handlers holds the dependencies of all HTTP handlers.
type Handlers struct {
	Lifecycle *service.LifecycleService
	Pipeline  *service.PipelineService
	Forms     *service.FormLoaderService
	Store     sessionstore.Store
	Queue     messagequeue.Queue
	Pool      *pgxpool.Pool
}

// StartSession handles POST /api/v1/sessions.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[session.StartRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.FormCode, "form_code") {
		return
	}

	// The form must exist before a session is bound to it.
	if _, err := h.Forms.Load(r.Context(), req.FormCode, req.Version); err != nil {
		writeDomainError(w, err, "form not found")
		return
	}

	sess, err := h.Lifecycle.Create(r.Context(), req.FormCode, req.Version)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/v1/sessions/{id}. A terminal session
// answers 410 with its successor.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Lifecycle.Resolve(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// TerminateSession handles DELETE /api/v1/sessions/{id}.
func (h *Handlers) TerminateSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Terminate(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage handles POST /api/v1/sessions/{id}/messages, the main
// conversational endpoint.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sendMessageRequest](w, r)
	if !ok {
		return
	}

	result, err := h.Pipeline.HandleMessage(r.Context(), urlParam(r, "id"), req.Message)
	if err != nil {
		writeDomainError(w, err, "session or form not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetFields handles GET /api/v1/sessions/{id}/fields. Reads bypass the
// orchestrator for latency.
func (h *Handlers) GetFields(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	if _, err := h.Store.GetSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	fields, err := h.Store.GetFields(r.Context(), sessionID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields.Values()})
}

// GetHistory handles GET /api/v1/sessions/{id}/history.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	if _, err := h.Store.GetSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	history, err := h.Store.GetHistory(r.Context(), sessionID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type formActionRequest struct {
	NewFieldValues []field.Value `json:"new_field_values"`
	Messages       []string      `json:"messages,omitempty"`
}

// FormAction handles POST /api/v1/sessions/{id}/fields: explicit field
// updates that bypass extraction. Unknown field IDs are rejected here,
// before any event reaches the orchestrator.
func (h *Handlers) FormAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[formActionRequest](w, r)
	if !ok {
		return
	}
	if len(req.NewFieldValues) == 0 {
		writeError(w, http.StatusBadRequest, "new_field_values is required")
		return
	}

	sessionID := urlParam(r, "id")
	sess, err := h.Lifecycle.Resolve(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	f, err := h.Forms.Load(r.Context(), sess.FormCode, sess.Version)
	if err != nil {
		writeDomainError(w, err, "form not found")
		return
	}
	for _, v := range req.NewFieldValues {
		if !f.HasField(v.Name) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown field %q", v.Name))
			return
		}
	}

	messages := req.Messages
	if len(messages) == 0 {
		messages = []string{transcript.FormInputLine(fieldNames(req.NewFieldValues))}
	}
	if err := h.publish(r.Context(), sess.ID, event.TypeFormAction, event.FormActionPayload{
		NewFieldValues: req.NewFieldValues,
		Messages:       messages,
	}); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type tokenUpdateRequest struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// UpdateToken handles PUT /api/v1/sessions/{id}/token.
func (h *Handlers) UpdateToken(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tokenUpdateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Token, "token") {
		return
	}

	sessionID := urlParam(r, "id")
	sess, err := h.Lifecycle.Resolve(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	if err := h.publish(r.Context(), sess.ID, event.TypeTokenUpdate, event.TokenUpdatePayload{
		Token:      req.Token,
		Expiration: req.Expiration,
	}); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Health handles GET /health, reporting postgres and queue status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	pgStatus := "up"
	if h.Pool == nil {
		pgStatus = "unconfigured"
	} else if err := h.Pool.Ping(ctx); err != nil {
		pgStatus = "down"
	}

	natsStatus := "up"
	if h.Queue == nil || !h.Queue.IsConnected() {
		natsStatus = "down"
	}

	status := http.StatusOK
	if pgStatus == "down" || natsStatus == "down" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"postgres": pgStatus,
		"nats":     natsStatus,
	})
}

// publish wraps a payload in an event envelope and sends it to the
// session's subject. Envelope ID and timestamp are assigned here, at the
// boundary.
func (h *Handlers) publish(ctx context.Context, sessionID string, typ event.Type, payload any) error {
	env, err := event.New(uuid.NewString(), sessionID, typ, payload, time.Now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return h.Queue.Publish(ctx, messagequeue.SessionSubject(sessionID), data)
}

func fieldNames(values []field.Value) []string {
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, v.Name)
	}
	return names
}
