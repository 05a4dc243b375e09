package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	fphttp "github.com/formpilot/formpilot/internal/adapter/http"
	"github.com/formpilot/formpilot/internal/adapter/ws"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/event"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/session"
	"github.com/formpilot/formpilot/internal/port/messagequeue"
	"github.com/formpilot/formpilot/internal/service"
)

const testFormDoc = `{
	"code": "f1",
	"version": "v1",
	"fields": [
		{"id": "name", "label": "Full name", "type": "text"},
		{"id": "age", "label": "Age", "type": "number"}
	]
}`

// fakeStore is a minimal in-memory session store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	history  map[string][]string
	fields   map[string]field.Store
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*session.Session),
		history:  make(map[string][]string),
		fields:   make(map[string]field.Store),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpdateSnapshot(_ context.Context, id string, snap session.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastMessage = snap.LastMessage
		s.Token = snap.Token
		s.TokenExpiration = snap.TokenExpiration
	}
	return nil
}

func (f *fakeStore) SetStatus(_ context.Context, id string, status session.RuntimeStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeStore) AppendHistory(_ context.Context, id, _ string, lines []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[id] = append(f.history[id], lines...)
	return nil
}

func (f *fakeStore) GetHistory(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history[id]...), nil
}

func (f *fakeStore) HistoryLength(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history[id]), nil
}

func (f *fakeStore) TruncateHistory(_ context.Context, id string, keep int) error {
	return nil
}

func (f *fakeStore) UpsertFields(_ context.Context, id, _ string, values []field.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fields[id]
	if !ok {
		fs = make(field.Store)
		f.fields[id] = fs
	}
	fs.Merge(values)
	return nil
}

func (f *fakeStore) GetFields(_ context.Context, id string) (field.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs, ok := f.fields[id]
	if !ok {
		return make(field.Store), nil
	}
	return fs.Clone(), nil
}

func (f *fakeStore) ReplaceFields(_ context.Context, id string, values []field.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fs := make(field.Store)
	fs.Merge(values)
	f.fields[id] = fs
	return nil
}

func (f *fakeStore) RemoveField(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fields[id], field.Key(name))
	return nil
}

func (f *fakeStore) ClearFields(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[id] = make(field.Store)
	return nil
}

// fakeMappings is an in-memory mapping store.
type fakeMappings struct {
	mu sync.Mutex
	m  map[string]session.Mapping
}

func (f *fakeMappings) Get(_ context.Context, oldID string) (*session.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.m[oldID]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", oldID, domain.ErrNotFound)
	}
	return &m, nil
}

func (f *fakeMappings) Put(_ context.Context, m session.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[m.OldID] = m
	return nil
}

// fakeQueue records published envelopes.
type fakeQueue struct {
	mu        sync.Mutex
	published []event.Envelope
}

func (q *fakeQueue) Publish(_ context.Context, _ string, data []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, env)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) events() []event.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]event.Envelope(nil), q.published...)
}

// fakeContent serves the test form document.
type fakeContent struct{}

func (fakeContent) Read(_ context.Context, formCode, fileName string) ([]byte, error) {
	if formCode == "f1" && (fileName == "v1.json" || fileName == "latest.json") {
		return []byte(testFormDoc), nil
	}
	return nil, fmt.Errorf("form %s/%s: %w", formCode, fileName, domain.ErrNotFound)
}

type fixture struct {
	router *chi.Mux
	store  *fakeStore
	queue  *fakeQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newFakeStore()
	queue := &fakeQueue{}
	mappings := &fakeMappings{m: make(map[string]session.Mapping)}

	lifecycle := service.NewLifecycleService(store, mappings, nil, nil)
	forms := service.NewFormLoaderService(fakeContent{}, nil, time.Minute)

	h := &fphttp.Handlers{
		Lifecycle: lifecycle,
		Forms:     forms,
		Store:     store,
		Queue:     queue,
	}

	r := chi.NewRouter()
	fphttp.MountRoutes(r, h, ws.NewHub(), nil)
	return &fixture{router: r, store: store, queue: queue}
}

func (fx *fixture) seed(t *testing.T, id string, status session.RuntimeStatus) {
	t.Helper()
	err := fx.store.CreateSession(context.Background(), &session.Session{
		ID:       id,
		FormCode: "f1",
		Version:  "v1",
		Status:   status,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (fx *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestStartSession(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(http.MethodPost, "/api/v1/sessions", `{"form_code":"f1","version":"v1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID == "" || sess.FormCode != "f1" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestStartSessionValidation(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing form code", `{"version":"v1"}`, http.StatusBadRequest},
		{"unknown form", `{"form_code":"ghost","version":"v1"}`, http.StatusNotFound},
		{"bad json", `{{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(http.MethodPost, "/api/v1/sessions", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetSessionGoneCarriesSuccessor(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "dead", session.StatusTerminated)

	rec := fx.do(http.MethodGet, "/api/v1/sessions/dead", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		NewSessionID string `json:"new_session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.NewSessionID == "" {
		t.Fatal("410 without successor pointer")
	}

	// The successor must be resolvable and live.
	rec2 := fx.do(http.MethodGet, "/api/v1/sessions/"+resp.NewSessionID, "")
	if rec2.Code != http.StatusOK {
		t.Fatalf("successor status = %d", rec2.Code)
	}
}

func TestFormActionRejectsUnknownField(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "s1", session.StatusRunning)

	body := `{"new_field_values":[{"name":"favorite_color","value":"blue"}]}`
	rec := fx.do(http.MethodPost, "/api/v1/sessions/s1/fields", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if len(fx.queue.events()) != 0 {
		t.Fatal("event published despite rejection")
	}
}

func TestFormActionPublishesEvent(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "s1", session.StatusRunning)

	body := `{"new_field_values":[{"name":"age","value":"30"}]}`
	rec := fx.do(http.MethodPost, "/api/v1/sessions/s1/fields", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	envs := fx.queue.events()
	if len(envs) != 1 || envs[0].Type != event.TypeFormAction {
		t.Fatalf("events = %v", envs)
	}
	var p event.FormActionPayload
	if err := envs[0].DecodePayload(&p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(p.NewFieldValues) != 1 || p.NewFieldValues[0].Name != "age" {
		t.Fatalf("payload = %+v", p)
	}
	if len(p.Messages) == 0 {
		t.Fatal("no transcript annotation generated")
	}
}

func TestTokenUpdatePublishesEvent(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "s1", session.StatusRunning)

	body := `{"token":"tok-1","expiration":"2027-01-01T00:00:00Z"}`
	rec := fx.do(http.MethodPut, "/api/v1/sessions/s1/token", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	envs := fx.queue.events()
	if len(envs) != 1 || envs[0].Type != event.TypeTokenUpdate {
		t.Fatalf("events = %v", envs)
	}
}

func TestReadEndpoints(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "s1", session.StatusRunning)
	_ = fx.store.AppendHistory(context.Background(), "s1", "", []string{"user: hi"})
	_ = fx.store.UpsertFields(context.Background(), "s1", "", []field.Value{{Name: "name", Value: "Alice"}})

	rec := fx.do(http.MethodGet, "/api/v1/sessions/s1/history", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "user: hi") {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(http.MethodGet, "/api/v1/sessions/s1/fields", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Alice") {
		t.Fatalf("fields: %d %s", rec.Code, rec.Body.String())
	}

	rec = fx.do(http.MethodGet, "/api/v1/sessions/ghost/history", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session history: %d", rec.Code)
	}
}

func TestTerminateSession(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, "s1", session.StatusRunning)

	rec := fx.do(http.MethodDelete, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	// The session is now gone; a follow-up read answers 410.
	rec = fx.do(http.MethodGet, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("status after terminate = %d, want 410", rec.Code)
	}
}
