// Package middleware provides HTTP middleware for FormPilot.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/formpilot/formpilot/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"

	// Caps client-supplied IDs so a hostile header cannot bloat logs.
	maxRequestIDLen = 128
)

// RequestID adopts the caller's X-Request-ID or mints a fresh one, then
// mirrors it into the request context and the response header so one ID
// correlates client, access log, and downstream log lines.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = newRequestID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
