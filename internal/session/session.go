// Package session holds the signed-in user's OAuth2 token and account
// endpoints, and decorates repository API requests with them.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
)

var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrStateMismatch  = errors.New("oauth state mismatch")
)

// Sign-ins that were started but not completed are kept for pendingTTL, and
// at most maxPending of them at once.
const (
	pendingTTL = 10 * time.Minute
	maxPending = 32
)

type pendingLogin struct {
	verifier string
	started  time.Time
}

// AccountEndpoints describes where the signed-in account lives.
type AccountEndpoints struct {
	RegionalDomain string `json:"regionalDomain"`
	WebClientURL   string `json:"webClientUrl"`
}

// Config holds sign-in configuration.
type Config struct {
	ClientID    string
	RedirectURI string
	HostName    string // e.g. laserfiche.com
	Scopes      []string

	// IssuerURL enables OIDC discovery of the authorize/token endpoints.
	IssuerURL string
	// AuthURL and TokenURL pin the endpoints, overriding discovery.
	AuthURL  string
	TokenURL string

	// WebClientURL overrides the web client derived from the host name.
	WebClientURL string
	// TokenFile persists the token between runs. Empty disables persistence.
	TokenFile string
}

// Session is the authentication state of one user.
type Session struct {
	oauth     *oauth2.Config
	tokenFile string
	defaults  AccountEndpoints

	mu        sync.RWMutex
	token     *oauth2.Token
	endpoints AccountEndpoints
	accountID string
	pending   map[string]pendingLogin // keyed by state

	hookMu       sync.Mutex
	onLogout     []func()
	onInvalidate []func()
}

// New creates a session. When cfg.IssuerURL is set the provider is
// discovered, which performs a network call.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.HostName == "" {
		cfg.HostName = "laserfiche.com"
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   "https://signin." + cfg.HostName + "/oauth/Authorize",
		TokenURL:  "https://signin." + cfg.HostName + "/oauth/Token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("oidc provider init: %w", err)
		}
		endpoint = provider.Endpoint()
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		logging.Info("OIDC provider discovered",
			zap.String("issuer", cfg.IssuerURL),
			zap.String("token_url", endpoint.TokenURL))
	}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	defaults := AccountEndpoints{
		RegionalDomain: cfg.HostName,
		WebClientURL:   cfg.WebClientURL,
	}
	if defaults.WebClientURL == "" {
		defaults.WebClientURL = "https://app." + cfg.HostName + "/laserfiche"
	}

	return &Session{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint:    endpoint,
		},
		tokenFile: cfg.TokenFile,
		defaults:  defaults,
		endpoints: defaults,
		pending:   make(map[string]pendingLogin),
	}, nil
}

// Restore loads a previously saved token, if any. A missing file leaves the
// session logged out.
func (s *Session) Restore() error {
	if s.tokenFile == "" {
		return nil
	}
	tf, err := LoadToken(s.tokenFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load token: %w", err)
	}

	s.mu.Lock()
	s.token = tf.Token()
	s.accountID = tf.AccountID
	s.endpoints = s.defaults
	if tf.RegionalDomain != "" {
		s.endpoints.RegionalDomain = tf.RegionalDomain
	}
	if tf.WebClientURL != "" {
		s.endpoints.WebClientURL = tf.WebClientURL
	}
	s.mu.Unlock()

	logging.Debug("token restored", zap.String("account_id", tf.AccountID))
	return nil
}

// IsLoggedIn reports whether a usable token is held: an access token that
// has not expired, or one that can be refreshed.
func (s *Session) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.AccessToken == "" {
		return false
	}
	return s.token.Valid() || s.token.RefreshToken != ""
}

// AccessToken returns the current bearer token, or "".
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Endpoints returns the account endpoints of the signed-in user.
func (s *Session) Endpoints() AccountEndpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoints
}

// AccountID returns the account id read from the access token, if any.
func (s *Session) AccountID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

// AuthCodeURL starts an authorization code + PKCE sign-in and returns the
// URL to send the user to along with the state to expect on the callback.
func (s *Session) AuthCodeURL() (string, string, error) {
	state, err := randomState()
	if err != nil {
		return "", "", err
	}
	verifier := oauth2.GenerateVerifier()

	now := time.Now()
	s.mu.Lock()
	s.prunePendingLocked(now)
	s.pending[state] = pendingLogin{verifier: verifier, started: now}
	s.mu.Unlock()

	return s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), state, nil
}

// Exchange completes a sign-in started by AuthCodeURL.
func (s *Session) Exchange(ctx context.Context, state, code string) error {
	s.mu.Lock()
	login, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok || time.Since(login.started) > pendingTTL {
		metrics.RecordLogin(false)
		return ErrStateMismatch
	}

	tok, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(login.verifier))
	if err != nil {
		metrics.RecordLogin(false)
		return fmt.Errorf("exchange code: %w", err)
	}
	metrics.RecordLogin(true)
	return s.SetToken(tok)
}

// prunePendingLocked drops expired sign-ins and, when still full, the oldest
// ones so a new entry fits under maxPending.
func (s *Session) prunePendingLocked(now time.Time) {
	for state, login := range s.pending {
		if now.Sub(login.started) > pendingTTL {
			delete(s.pending, state)
		}
	}
	for len(s.pending) >= maxPending {
		oldest := ""
		var oldestAt time.Time
		for state, login := range s.pending {
			if oldest == "" || login.started.Before(oldestAt) {
				oldest, oldestAt = state, login.started
			}
		}
		delete(s.pending, oldest)
	}
}

// SetToken installs a token, reads its claims and persists it.
func (s *Session) SetToken(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return ErrNotLoggedIn
	}
	claims := readClaims(tok.AccessToken)
	if tok.Expiry.IsZero() && !claims.expiry.IsZero() {
		tok.Expiry = claims.expiry
	}

	s.mu.Lock()
	if s.token != nil && tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = tok
	if claims.accountID != "" {
		s.accountID = claims.accountID
	}
	tf := s.tokenFileLocked()
	s.mu.Unlock()

	if s.tokenFile == "" {
		return nil
	}
	if err := SaveToken(s.tokenFile, tf); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// SetEndpoints replaces the account endpoints, e.g. after the user switches
// region. Empty fields keep their defaults.
func (s *Session) SetEndpoints(ep AccountEndpoints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep.RegionalDomain == "" {
		ep.RegionalDomain = s.defaults.RegionalDomain
	}
	if ep.WebClientURL == "" {
		ep.WebClientURL = s.defaults.WebClientURL
	}
	s.endpoints = ep
}

// Refresh exchanges the refresh token for a new access token once.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	var refresh string
	if s.token != nil {
		refresh = s.token.RefreshToken
	}
	s.mu.RUnlock()
	if refresh == "" {
		return ErrNoRefreshToken
	}

	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return s.SetToken(tok)
}

// Logout drops the token, removes the token file and runs the logout hooks.
func (s *Session) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.accountID = ""
	s.endpoints = s.defaults
	s.mu.Unlock()

	var err error
	if s.tokenFile != "" {
		err = DeleteToken(s.tokenFile)
	}
	s.fire(s.logoutHooks())
	return err
}

// OnLogout registers fn to run after Logout.
func (s *Session) OnLogout(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

// OnInvalidate registers fn to run when a 401 could not be recovered by a refresh.
func (s *Session) OnInvalidate(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onInvalidate = append(s.onInvalidate, fn)
}

func (s *Session) logoutHooks() []func() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]func(){}, s.onLogout...)
}

func (s *Session) invalidateHooks() []func() {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]func(){}, s.onInvalidate...)
}

func (s *Session) fire(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

func (s *Session) tokenFileLocked() *TokenFile {
	return &TokenFile{
		AccessToken:    s.token.AccessToken,
		RefreshToken:   s.token.RefreshToken,
		TokenType:      s.token.TokenType,
		ExpiresAt:      s.token.Expiry,
		AccountID:      s.accountID,
		RegionalDomain: s.endpoints.RegionalDomain,
		WebClientURL:   s.endpoints.WebClientURL,
	}
}

type tokenClaims struct {
	expiry    time.Time
	accountID string
}

// readClaims extracts expiry and account id from a JWT access token without
// verifying it. Opaque tokens yield zero values.
func readClaims(raw string) tokenClaims {
	var out tokenClaims
	if strings.Count(raw, ".") != 2 {
		return out
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		logging.Debug("access token is not a readable JWT", zap.Error(err))
		return out
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiry = exp.Time
	}
	if csid, ok := claims["csid"].(string); ok && csid != "" {
		out.accountID = csid
	} else if sub, err := claims.GetSubject(); err == nil {
		out.accountID = sub
	}
	return out
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
