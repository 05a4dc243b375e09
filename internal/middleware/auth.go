package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/port/sessionstore"
)

// SessionToken guards the client-update channel. Once a session carries a
// token, the bearer token must match it and be unexpired. A session with
// no token yet passes through, so the first token_update can provision one.
func SessionToken(store sessionstore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "id")
			if sessionID == "" {
				http.Error(w, `{"error":"missing session id"}`, http.StatusBadRequest)
				return
			}

			sess, err := store.GetSession(r.Context(), sessionID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
					return
				}
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			if sess.Token == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			if !sess.TokenExpiration.IsZero() && time.Now().After(sess.TokenExpiration) {
				http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
