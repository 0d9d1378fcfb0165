// Package api serves the upload screen over HTTP: JSON endpoints over the
// controller, redirect sign-in, an SSE notification stream and the
// embedded page.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/app"
	"github.com/repodrop/repodrop/internal/browser"
	"github.com/repodrop/repodrop/internal/events"
	"github.com/repodrop/repodrop/internal/filesource"
	"github.com/repodrop/repodrop/internal/journal"
	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metadata"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/internal/ratelimit"
	"github.com/repodrop/repodrop/internal/repoclient"
	"github.com/repodrop/repodrop/internal/session"
	"github.com/repodrop/repodrop/internal/upload"
	"github.com/repodrop/repodrop/pkg/repoapi"
	"github.com/repodrop/repodrop/webapp"
)

// Auth is the sign-in flow behind /login.
type Auth interface {
	app.Auth
	AuthCodeURL() (authURL, state string, err error)
	Exchange(ctx context.Context, state, code string) error
	Logout() error
}

// History lists past imports.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Options configures a Server.
type Options struct {
	Controller    *app.Controller
	Auth          Auth
	Files         *filesource.Source
	History       History // optional
	Broadcaster   *events.Broadcaster
	Limiter       *ratelimit.Limiter // optional
	MaxUploadSize int64
}

// Server is the HTTP server.
type Server struct {
	ctrl          *app.Controller
	auth          Auth
	files         *filesource.Source
	history       History
	broadcaster   *events.Broadcaster
	limiter       *ratelimit.Limiter
	maxUploadSize int64
}

func NewServer(opts Options) *Server {
	if opts.Broadcaster == nil {
		opts.Broadcaster = events.NewBroadcaster()
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = filesource.DefaultMaxSize
	}
	return &Server{
		ctrl:          opts.Controller,
		auth:          opts.Auth,
		files:         opts.Files,
		history:       opts.History,
		broadcaster:   opts.Broadcaster,
		limiter:       opts.Limiter,
		maxUploadSize: opts.MaxUploadSize,
	}
}

// Handler returns the root handler with logging, metrics, rate limiting and
// the cross-origin guard applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Web app
	appFS, _ := fs.Sub(webapp.Assets, ".")
	mux.Handle("/app/", http.StripPrefix("/app/", http.FileServer(http.FS(appFS))))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app/", http.StatusFound)
	})

	// Sign-in
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /login/callback", s.handleLoginCallback)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	// Screen
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/browse", s.handleBrowse)
	mux.HandleFunc("POST /api/browse/open", s.handleBrowseOpen)
	mux.HandleFunc("POST /api/browse/up", s.handleBrowseUp)
	mux.HandleFunc("POST /api/browse/highlight", s.handleBrowseHighlight)
	mux.HandleFunc("POST /api/browse/select", s.handleBrowseSelect)
	mux.HandleFunc("POST /api/browse/cancel", s.handleBrowseCancel)
	mux.HandleFunc("POST /api/toolbar/{name}", s.handleToolbar)
	mux.HandleFunc("POST /api/folders", s.handleNewFolder)
	mux.HandleFunc("POST /api/columns/toggle", s.handleColumnsToggle)
	mux.HandleFunc("POST /api/columns", s.handleColumns)
	mux.HandleFunc("PUT /api/file", s.handleFile)
	mux.HandleFunc("DELETE /api/file", s.handleClearFile)
	mux.HandleFunc("PUT /api/metadata", s.handleMetadata)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	// metrics must see the *http.Request the mux sets Pattern on, so it
	// sits inside logging, which replaces the request.
	h := s.sameOrigin(mux)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return logging.Middleware(metrics.Middleware(h))
}

// Broadcaster returns the notification stream.
func (s *Server) Broadcaster() *events.Broadcaster {
	return s.broadcaster
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "loggedIn": s.auth.IsLoggedIn()})
}

// ─── Sign-in ───────────────────────────────────────────────────────────────

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	target, _, err := s.auth.AuthCodeURL()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		msg := e
		if d := q.Get("error_description"); d != "" {
			msg = e + ": " + d
		}
		s.sendError(w, http.StatusUnauthorized, msg)
		return
	}
	if err := s.auth.Exchange(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		logging.WithContext(r.Context()).Warn("sign-in failed", zap.Error(err))
		s.sendError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.ctrl.OnLoginCompleted(r.Context()); err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.broadcaster.Publish(events.Event{Type: events.EventLogin})
	http.Redirect(w, r, "/app/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(); err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.ctrl.OnLogoutCompleted(r.Context())
	s.broadcaster.Publish(events.Event{Type: events.EventLogout})
	s.writeState(w)
}

// ─── SSE Events ────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Browser ───────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.ctrl.OnClickBrowse(r.Context()))
}

func (s *Server) handleBrowseOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !s.decodeOptional(w, r, &req) {
		return
	}
	if req.Path != "" {
		s.run(w, s.ctrl.OpenFolder(r.Context(), req.Path))
		return
	}
	s.run(w, s.ctrl.OnOpenNode(r.Context()))
}

func (s *Server) handleBrowseUp(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.ctrl.OnFolderUp(r.Context()))
}

func (s *Server) handleBrowseHighlight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !s.decodeOptional(w, r, &req) {
		return
	}
	s.run(w, s.ctrl.OnEntrySelected(req.IDs...))
}

func (s *Server) handleBrowseSelect(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.ctrl.OnSelectFolder(r.Context()))
}

func (s *Server) handleBrowseCancel(w http.ResponseWriter, r *http.Request) {
	s.ctrl.OnFolderBrowserCancel()
	s.writeState(w)
}

func (s *Server) handleToolbar(w http.ResponseWriter, r *http.Request) {
	s.run(w, s.ctrl.OnToolbarOption(r.Context(), r.PathValue("name")))
}

// handleNewFolder confirms the new-folder dialog. A blank name cancels it.
// Without an open dialog the folder is created directly.
func (s *Server) handleNewFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.ctrl.NewFolderDialog()
	if err != nil {
		s.run(w, s.ctrl.MakeNewFolder(r.Context(), strings.TrimSpace(req.Name)))
		return
	}
	s.run(w, d.Close(r.Context(), req.Name))
}

func (s *Server) handleColumnsToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.ctrl.EditColumnsDialog()
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	if !d.Toggle(req.ID) {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown column %q", req.ID))
		return
	}
	s.writeState(w)
}

// handleColumns closes the edit-columns dialog, or replaces the columns
// directly when ids are given.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool     `json:"confirm"`
		Columns []string `json:"columns"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Columns != nil {
		cols := make([]browser.ColumnDef, 0, len(req.Columns))
		for _, id := range req.Columns {
			c, ok := browser.FindColumn(id)
			if !ok {
				s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown column %q", id))
				return
			}
			cols = append(cols, c)
		}
		s.ctrl.UpdateColumns(cols)
		s.writeState(w)
		return
	}
	d, err := s.ctrl.EditColumnsDialog()
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	d.Close(req.Confirm)
	s.writeState(w)
}

// ─── File & metadata ───────────────────────────────────────────────────────

// handleFile selects the document: a multipart "file" part, or a JSON
// {"source": "<path or s3://bucket/key>"}.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+1<<20)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "missing file: "+err.Error())
			return
		}
		defer f.Close()
		data, err := s.files.ReadFrom(f)
		if err != nil {
			s.sendError(w, statusFor(err), err.Error())
			return
		}
		s.ctrl.SelectFile(hdr.Filename, data)
		s.writeState(w)
		return
	}

	var req struct {
		Source string `json:"source"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		s.ctrl.ClearFileSelected()
		s.writeState(w)
		return
	}
	name, data, err := s.files.Read(r.Context(), req.Source)
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.ctrl.SelectFile(name, data)
	s.writeState(w)
}

func (s *Server) handleClearFile(w http.ResponseWriter, r *http.Request) {
	s.ctrl.ClearFileSelected()
	s.writeState(w)
}

// handleMetadata replaces the form values from
// {"template": "...", "fields": {"name": "v" | ["v1", "v2"]}}.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		s.sendError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	template, values, err := metadata.ParseJSON(data)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	form := s.ctrl.Form()
	// Values only change once the template they belong to is in place.
	if template != form.TemplateName() {
		if err := s.ctrl.LoadTemplate(r.Context(), template); err != nil {
			s.sendError(w, statusFor(err), err.Error())
			return
		}
	}
	form.ReplaceValues(values)
	s.writeState(w)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.OnClickSave(r.Context())
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusNotFound, "import journal is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		logging.WithContext(r.Context()).Error("history query failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ─── Helpers ───────────────────────────────────────────────────────────────

// run replies with the new state, or with err.
func (s *Server) run(w http.ResponseWriter, err error) {
	if err != nil {
		s.sendError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if !isJSON(r) {
		s.sendError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 && r.Header.Get("Content-Type") == "" {
		return true
	}
	if !isJSON(r) {
		s.sendError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// sameOrigin rejects state-changing requests started by another site.
// Browsers name the initiator in Sec-Fetch-Site, older ones only send
// Origin. Requests with neither come from non-browser clients.
func (s *Server) sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !isSameOrigin(r) {
			logging.WithContext(r.Context()).Warn("cross-origin request rejected",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("origin", r.Header.Get("Origin")))
			s.sendError(w, http.StatusForbidden, "cross-origin request rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSameOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "same-origin", "none":
		return true
	case "":
	default:
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to the HTTP status reported to the page.
func statusFor(err error) int {
	var apiErr *repoapi.APIError
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, upload.ErrInvalidMetadata):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrEntryNotFound),
		errors.Is(err, app.ErrUnknownToolbarOption):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrNoFolder),
		errors.Is(err, upload.ErrNoFile),
		errors.Is(err, upload.ErrNoParentEntry),
		errors.Is(err, app.ErrBrowserClosed),
		errors.Is(err, browser.ErrNotInitialized),
		errors.Is(err, browser.ErrNotContainer),
		errors.Is(err, browser.ErrNothingSelected),
		errors.Is(err, browser.ErrNotSelectable):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoDialog):
		return http.StatusConflict
	case errors.Is(err, filesource.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, repoclient.ErrNoRepository):
		return http.StatusBadGateway
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
			return apiErr.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
