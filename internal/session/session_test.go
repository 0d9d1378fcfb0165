package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/repodrop/repodrop/internal/repotest"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// tokenServer issues "fresh" for the refresh token "r1" and for the code "good".
func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			if r.Form.Get("refresh_token") != "r1" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
		case "authorization_code":
			if r.Form.Get("code") != "good" || r.Form.Get("code_verifier") == "" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"token_type":    "Bearer",
			"refresh_token": "r1",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestSession(t *testing.T, tokenURL, tokenFile string) *Session {
	t.Helper()
	s, err := New(context.Background(), Config{
		ClientID:    "client",
		RedirectURI: "http://localhost/callback",
		HostName:    "example.com",
		Scopes:      []string{"repository.Read", "repository.Write"},
		TokenURL:    tokenURL,
		TokenFile:   tokenFile,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestIsLoggedIn(t *testing.T) {
	s := newTestSession(t, "", "")
	if s.IsLoggedIn() {
		t.Error("expected logged out before any token")
	}

	s.SetToken(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)})
	if !s.IsLoggedIn() {
		t.Error("expected logged in with a valid token")
	}

	s.SetToken(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)})
	if s.IsLoggedIn() {
		t.Error("expected logged out with an expired token and no refresh token")
	}

	s.SetToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)})
	if !s.IsLoggedIn() {
		t.Error("expected logged in when the token can be refreshed")
	}
}

func TestDefaultEndpoints(t *testing.T) {
	s := newTestSession(t, "", "")
	ep := s.Endpoints()
	if ep.RegionalDomain != "example.com" {
		t.Errorf("expected regional domain example.com, got %s", ep.RegionalDomain)
	}
	if ep.WebClientURL != "https://app.example.com/laserfiche" {
		t.Errorf("unexpected web client URL %s", ep.WebClientURL)
	}
	if got := s.oauth.Endpoint.AuthURL; got != "https://signin.example.com/oauth/Authorize" {
		t.Errorf("unexpected auth URL %s", got)
	}
}

func TestSetToken_ReadsClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":  exp.Unix(),
		"sub":  "user-7",
		"csid": "acct-42",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	s := newTestSession(t, "", "")
	if err := s.SetToken(&oauth2.Token{AccessToken: raw}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AccountID() != "acct-42" {
		t.Errorf("expected account acct-42, got %s", s.AccountID())
	}
	if !s.token.Expiry.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, s.token.Expiry)
	}
}

func TestAuthCodeURL_PKCE(t *testing.T) {
	s := newTestSession(t, "", "")
	raw, state, err := s.AuthCodeURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("state") != state {
		t.Errorf("expected state %s, got %s", state, q.Get("state"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected S256 code challenge, got %q", u.RawQuery)
	}
	if q.Get("scope") != "repository.Read repository.Write" {
		t.Errorf("unexpected scope %q", q.Get("scope"))
	}
}

func TestExchange(t *testing.T) {
	ts := tokenServer(t)
	s := newTestSession(t, ts.URL, "")

	if err := s.Exchange(context.Background(), "unknown", "good"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected ErrStateMismatch, got %v", err)
	}

	_, state, err := s.AuthCodeURL()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Exchange(context.Background(), state, "good"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AccessToken() != "fresh" || !s.IsLoggedIn() {
		t.Errorf("expected fresh token, got %q", s.AccessToken())
	}
	// state is single use
	if err := s.Exchange(context.Background(), state, "good"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected reused state to fail, got %v", err)
	}
}

func TestAuthCodeURL_BoundsPendingSignIns(t *testing.T) {
	ts := tokenServer(t)
	s := newTestSession(t, ts.URL, "")

	_, first, err := s.AuthCodeURL()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2*maxPending; i++ {
		if _, _, err := s.AuthCodeURL(); err != nil {
			t.Fatal(err)
		}
	}
	s.mu.RLock()
	n := len(s.pending)
	s.mu.RUnlock()
	if n != maxPending {
		t.Errorf("expected %d pending sign-ins, got %d", maxPending, n)
	}
	if err := s.Exchange(context.Background(), first, "good"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected evicted state to fail, got %v", err)
	}
}

func TestExchange_ExpiredState(t *testing.T) {
	ts := tokenServer(t)
	s := newTestSession(t, ts.URL, "")

	_, state, err := s.AuthCodeURL()
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	login := s.pending[state]
	login.started = time.Now().Add(-pendingTTL - time.Minute)
	s.pending[state] = login
	s.mu.Unlock()

	if err := s.Exchange(context.Background(), state, "good"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("expected expired state to fail, got %v", err)
	}
	if s.IsLoggedIn() {
		t.Error("expected logged out after expired state")
	}
}

func TestTokenFile_RestoreAndLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := newTestSession(t, "", path)
	s.SetEndpoints(AccountEndpoints{RegionalDomain: "eu.example.com"})
	if err := s.SetToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("token file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	restored := newTestSession(t, "", path)
	if err := restored.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.AccessToken() != "a" {
		t.Errorf("expected token a, got %q", restored.AccessToken())
	}
	if restored.Endpoints().RegionalDomain != "eu.example.com" {
		t.Errorf("expected restored regional domain, got %s", restored.Endpoints().RegionalDomain)
	}

	hooked := 0
	restored.OnLogout(func() { hooked++ })
	if err := restored.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if hooked != 1 {
		t.Errorf("expected logout hook to run once, ran %d", hooked)
	}
	if restored.IsLoggedIn() {
		t.Error("expected logged out after Logout")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected token file removed, got %v", err)
	}
}

func TestRestore_MissingFile(t *testing.T) {
	s := newTestSession(t, "", filepath.Join(t.TempDir(), "none.json"))
	if err := s.Restore(); err != nil {
		t.Errorf("expected no error for missing file, got %v", err)
	}
	if s.IsLoggedIn() {
		t.Error("expected logged out")
	}
}

func TestRequestHandler_RefreshesOnceOn401(t *testing.T) {
	ts := tokenServer(t)
	srv := repotest.New("r1", "Main")
	defer srv.Close()
	srv.RequireToken("fresh")

	s := newTestSession(t, ts.URL, "")
	s.SetToken(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})

	c := srv.Client(s.RequestHandler())
	repos, err := c.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repos) != 1 || repos[0].RepoID != "r1" {
		t.Errorf("unexpected repos: %+v", repos)
	}
	if n := srv.Calls("list_repositories"); n != 2 {
		t.Errorf("expected 2 calls (original + retry), got %d", n)
	}
	if s.AccessToken() != "fresh" {
		t.Errorf("expected refreshed token, got %q", s.AccessToken())
	}
}

func TestRequestHandler_InvalidatesWhenRefreshFails(t *testing.T) {
	srv := repotest.New("r1", "Main")
	defer srv.Close()
	srv.RequireToken("fresh")

	s := newTestSession(t, "", "")
	s.SetToken(&oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(time.Hour)})
	invalidated := 0
	s.OnInvalidate(func() { invalidated++ })

	c := srv.Client(s.RequestHandler())
	_, err := c.ListRepositories(context.Background())
	var apiErr *repoapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if invalidated != 1 {
		t.Errorf("expected invalidate hook once, got %d", invalidated)
	}
	if n := srv.Calls("list_repositories"); n != 1 {
		t.Errorf("expected no retry, got %d calls", n)
	}
}

func TestRequestHandler_InvalidatesWhenRetryIsRejected(t *testing.T) {
	refreshes := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"token_type":    "Bearer",
			"refresh_token": "r1",
			"expires_in":    3600,
		})
	}))
	defer ts.Close()
	srv := repotest.New("r1", "Main")
	defer srv.Close()
	srv.RequireToken("never-valid")

	s := newTestSession(t, ts.URL, "")
	s.SetToken(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
	invalidated := 0
	s.OnInvalidate(func() { invalidated++ })

	_, err := srv.Client(s.RequestHandler()).ListRepositories(context.Background())
	var apiErr *repoapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if refreshes != 1 {
		t.Errorf("expected 1 refresh, got %d", refreshes)
	}
	if invalidated != 1 {
		t.Errorf("expected invalidate hook once, got %d", invalidated)
	}
	if n := srv.Calls("list_repositories"); n != 2 {
		t.Errorf("expected 2 calls (original + retry), got %d", n)
	}
}

func TestRequestHandler_NotLoggedIn(t *testing.T) {
	srv := repotest.New("r1", "Main")
	defer srv.Close()

	s := newTestSession(t, "", "")
	_, err := srv.Client(s.RequestHandler()).ListRepositories(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
	if srv.Calls("list_repositories") != 0 {
		t.Error("expected no request without a token")
	}
}

func TestRequestHandler_RegionalDomain(t *testing.T) {
	s := newTestSession(t, "", "")
	s.SetToken(&oauth2.Token{AccessToken: "tok"})
	req := httptest.NewRequest("GET", "https://api.example.com/v1/Repositories", nil)
	domain, err := s.RequestHandler().BeforeFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Errorf("expected example.com, got %s", domain)
	}
	if got := req.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer tok") {
		t.Errorf("unexpected Authorization header %q", got)
	}
}
