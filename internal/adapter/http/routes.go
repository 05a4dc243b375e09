package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/formpilot/formpilot/internal/adapter/ws"
	"github.com/formpilot/formpilot/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. The
// idempotency KV bucket may be nil, which disables request deduplication.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub, idempotencyKV jetstream.KeyValue) {
	r.Get("/health", h.Health)
	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Middleware must be attached before any route on this router.
		if idempotencyKV != nil {
			r.Use(middleware.Idempotency(idempotencyKV))
		}

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/sessions", h.StartSession)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.TerminateSession)

		r.Post("/sessions/{id}/messages", h.SendMessage)
		r.Get("/sessions/{id}/fields", h.GetFields)
		r.Get("/sessions/{id}/history", h.GetHistory)

		// Client-update channel: token protected once a token is set.
		r.Group(func(r chi.Router) {
			r.Use(middleware.SessionToken(h.Store))
			r.Post("/sessions/{id}/fields", h.FormAction)
			r.Put("/sessions/{id}/token", h.UpdateToken)
		})
	})
}
