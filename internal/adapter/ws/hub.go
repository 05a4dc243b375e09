// Package ws implements the broadcast port for real-time session observers.
// Observers connect once and receive snapshot and field updates for the
// sessions they watch; a session query parameter narrows the feed.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all observer messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single observer connection with its session filter.
type conn struct {
	ws        *websocket.Conn
	sessionID string // empty = all sessions
	cancel    context.CancelFunc
}

// Hub manages all active observer connections and broadcasts updates.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new observer hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the connection and registers the observer. The
// optional ?session= parameter restricts the feed to one session.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, sessionID: r.URL.Query().Get("session"), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("observer connected", "remote", r.RemoteAddr, "session", c.sessionID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// sessionPayload is the minimal shape needed to route by session ID.
type sessionPayload struct {
	SessionID string `json:"session_id"`
}

// BroadcastEvent marshals a typed event and sends it to every observer
// whose filter matches the payload's session_id.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var sp sessionPayload
	_ = json.Unmarshal(data, &sp)

	msg, err := json.Marshal(Message{Type: eventType, Payload: data})
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if c.sessionID != "" && sp.SessionID != "" && c.sessionID != sp.SessionID {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, msg); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active observer connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("observer disconnected")
	}
}
