package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formpilot/formpilot/internal/logger"
	"github.com/formpilot/formpilot/internal/middleware"
)

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header = %q, context = %q", got, seen)
	}
	if len(seen) != 32 {
		t.Fatalf("generated ID length = %d, want 32 hex chars", len(seen))
	}
}

func TestRequestIDPreservesIncoming(t *testing.T) {
	var seen string
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-supplied" {
		t.Fatalf("request ID = %q", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("echoed header = %q", got)
	}
}
