package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestMiddleware_RequestID(t *testing.T) {
	logs := observe(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		WithContext(r.Context()).Info("handling")
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("expected X-Request-ID abc, got %q", got)
	}
	handling := logs.FilterMessage("handling").All()
	if len(handling) != 1 || handling[0].ContextMap()["request_id"] != "abc" {
		t.Errorf("expected handler entry tagged with request_id abc, got %+v", handling)
	}
	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("expected 1 completion entry, got %d", len(done))
	}
	fields := done[0].ContextMap()
	if fields["route"] != "GET /items/{id}" {
		t.Errorf("expected route GET /items/{id}, got %v", fields["route"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", fields["status"])
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	observe(t)
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	a, b := first.Header().Get("X-Request-ID"), second.Header().Get("X-Request-ID")
	if a == "" || a == b {
		t.Errorf("expected distinct generated ids, got %q and %q", a, b)
	}
}

func TestWithContext_FallsBackToGlobal(t *testing.T) {
	logs := observe(t)
	WithContext(context.Background()).Warn("plain")
	if logs.FilterMessage("plain").Len() != 1 {
		t.Error("expected entry on the global logger")
	}
}
