package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := New(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("4th request should be denied")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other clients should have their own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
	if l.RetryAfter() != 0 {
		t.Errorf("expected no retry-after, got %d", l.RetryAfter())
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := New(1, 1)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")
	if n := l.Cleanup(time.Hour); n != 0 {
		t.Errorf("expected nothing cleaned, got %d", n)
	}
	if n := l.Cleanup(-time.Second); n != 2 {
		t.Errorf("expected 2 cleaned, got %d", n)
	}
}

func TestMiddleware(t *testing.T) {
	l := New(0.5, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.RemoteAddr = "192.0.2.1:4000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
}
