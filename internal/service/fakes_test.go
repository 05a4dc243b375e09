package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/dialog"
	"github.com/formpilot/formpilot/internal/domain/event"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/form"
	"github.com/formpilot/formpilot/internal/domain/session"
	"github.com/formpilot/formpilot/internal/port/messagequeue"
)

// memStore is an in-memory sessionstore.Store with the same event dedup
// semantics as the postgres adapter: one (session, event, kind) pair is
// applied at most once.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	history  map[string][]string
	fields   map[string]field.Store
	applied  map[string]bool

	// When block is set, GetSession signals entered then parks until
	// block is closed. Lets tests hold an orchestrator loop mid-event.
	block   chan struct{}
	entered chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*session.Session),
		history:  make(map[string][]string),
		fields:   make(map[string]field.Store),
		applied:  make(map[string]bool),
	}
}

func (m *memStore) markApplied(sessionID, eventID, kind string) bool {
	if eventID == "" {
		return true
	}
	k := sessionID + "|" + eventID + "|" + kind
	if m.applied[k] {
		return false
	}
	m.applied[k] = true
	return true
}

func (m *memStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.CreatedAt = time.Now()
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	if m.block != nil {
		if m.entered != nil {
			select {
			case m.entered <- struct{}{}:
			default:
			}
		}
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) UpdateSnapshot(_ context.Context, id string, snap session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s.LastMessage = snap.LastMessage
	s.Token = snap.Token
	s.TokenExpiration = snap.TokenExpiration
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id string, status session.RuntimeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s.Status = status
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, sessionID, eventID string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.markApplied(sessionID, eventID, "history") {
		return nil
	}
	m.history[sessionID] = append(m.history[sessionID], lines...)
	return nil
}

func (m *memStore) GetHistory(_ context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history[sessionID]...), nil
}

func (m *memStore) HistoryLength(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history[sessionID]), nil
}

func (m *memStore) TruncateHistory(_ context.Context, sessionID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[sessionID]
	if len(h) > keep {
		m.history[sessionID] = append([]string(nil), h[len(h)-keep:]...)
	}
	return nil
}

func (m *memStore) UpsertFields(_ context.Context, sessionID, eventID string, values []field.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.markApplied(sessionID, eventID, "fields") {
		return nil
	}
	fs, ok := m.fields[sessionID]
	if !ok {
		fs = make(field.Store)
		m.fields[sessionID] = fs
	}
	fs.Merge(values)
	return nil
}

func (m *memStore) GetFields(_ context.Context, sessionID string) (field.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.fields[sessionID]
	if !ok {
		return make(field.Store), nil
	}
	return fs.Clone(), nil
}

func (m *memStore) ReplaceFields(_ context.Context, sessionID string, values []field.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs := make(field.Store)
	fs.Merge(values)
	m.fields[sessionID] = fs
	return nil
}

func (m *memStore) RemoveField(_ context.Context, sessionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields[sessionID], field.Key(name))
	return nil
}

func (m *memStore) ClearFields(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[sessionID] = make(field.Store)
	return nil
}

// memQueue records published envelopes and hands them back to tests.
type memQueue struct {
	mu        sync.Mutex
	published []event.Envelope
	handler   messagequeue.Handler
}

func newMemQueue() *memQueue { return &memQueue{} }

func (q *memQueue) Publish(ctx context.Context, subject string, data []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	q.mu.Lock()
	q.published = append(q.published, env)
	h := q.handler
	q.mu.Unlock()
	if h != nil {
		return h(ctx, subject, data)
	}
	return nil
}

func (q *memQueue) Subscribe(_ context.Context, _ string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
	return func() {}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

func (q *memQueue) events() []event.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]event.Envelope(nil), q.published...)
}

// memMappings is an in-memory mappingstore.Store.
type memMappings struct {
	mu sync.Mutex
	m  map[string]session.Mapping
}

func newMemMappings() *memMappings {
	return &memMappings{m: make(map[string]session.Mapping)}
}

func (s *memMappings) Get(_ context.Context, oldID string) (*session.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[oldID]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", oldID, domain.ErrNotFound)
	}
	return &m, nil
}

func (s *memMappings) Put(_ context.Context, m session.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[m.OldID] = m
	return nil
}

// memContent serves form documents from a map keyed "code/file".
type memContent struct {
	docs map[string][]byte
}

func (c *memContent) Read(_ context.Context, formCode, fileName string) ([]byte, error) {
	data, ok := c.docs[formCode+"/"+fileName]
	if !ok {
		return nil, fmt.Errorf("form %s/%s: %w", formCode, fileName, domain.ErrNotFound)
	}
	return data, nil
}

// fakeAgents implements every agent port with canned answers and call
// counters, so tests can assert which capabilities ran.
type fakeAgents struct {
	mu sync.Mutex

	classifyCalls int
	extractCalls  int
	validateCalls int
	recheckCalls  int
	respondCalls  int
	redirectCalls int

	classification dialog.Classification
	extracted      []field.Value
	validation     dialog.ValidationResult
	rechecked      dialog.ValidationResult
	reply          dialog.Reply
	redirect       dialog.RedirectReply

	lastBulkHint     bool
	lastClassifyTail []string
}

func (a *fakeAgents) Classify(_ context.Context, dialogTail []string, _ string, _, _ []string) (dialog.Classification, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.classifyCalls++
	a.lastClassifyTail = append([]string(nil), dialogTail...)
	return a.classification, nil
}

func (a *fakeAgents) Extract(_ context.Context, _ []string, _ *form.Form, _ field.Store, bulkHint bool) ([]field.Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extractCalls++
	a.lastBulkHint = bulkHint
	return a.extracted, nil
}

func (a *fakeAgents) Validate(_ context.Context, _ string, _ *form.Form, _ field.Store, _ []field.Value) (dialog.ValidationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validateCalls++
	return a.validation, nil
}

func (a *fakeAgents) Recheck(_ context.Context, _ *form.Form, _ []field.Value, _ dialog.ValidationResult) (dialog.ValidationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recheckCalls++
	return a.rechecked, nil
}

func (a *fakeAgents) Respond(_ context.Context, _ []string, _ *form.Form, _ field.Store, _ []field.Value, _ dialog.ValidationResult, _ string) (dialog.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.respondCalls++
	return a.reply, nil
}

func (a *fakeAgents) Redirect(_ context.Context, _ *form.Form, _ field.Store, _ string, _ bool) (dialog.RedirectReply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.redirectCalls++
	return a.redirect, nil
}
