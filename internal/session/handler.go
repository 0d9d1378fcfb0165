package session

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/pkg/repoapi"
)

// RequestHandler returns the repository API hook for this session. It
// attaches the bearer token, reports the regional domain and, on 401, tries
// one refresh before asking the client to retry.
func (s *Session) RequestHandler() repoapi.RequestHandler {
	return &requestHandler{s: s}
}

type requestHandler struct {
	s *Session
}

func (h *requestHandler) BeforeFetch(ctx context.Context, req *http.Request) (string, error) {
	token := h.s.AccessToken()
	if token == "" {
		return "", ErrNotLoggedIn
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return h.s.Endpoints().RegionalDomain, nil
}

func (h *requestHandler) AfterFetch(ctx context.Context, resp *http.Response) bool {
	if resp.StatusCode != http.StatusUnauthorized {
		return false
	}

	// The refreshed token was rejected too.
	if repoapi.IsRetry(ctx) {
		logging.WithContext(ctx).Warn("repository rejected refreshed token")
		h.s.fire(h.s.invalidateHooks())
		return false
	}

	// Another request already refreshed the token while this one was in flight.
	if resp.Request != nil {
		sent := strings.TrimPrefix(resp.Request.Header.Get("Authorization"), "Bearer ")
		if current := h.s.AccessToken(); sent != "" && current != "" && sent != current {
			return true
		}
	}

	if err := h.s.Refresh(ctx); err != nil {
		metrics.RecordTokenRefresh(false)
		logging.WithContext(ctx).Warn("token refresh after 401 failed", zap.Error(err))
		h.s.fire(h.s.invalidateHooks())
		return false
	}
	metrics.RecordTokenRefresh(true)
	logging.WithContext(ctx).Debug("token refreshed after 401")
	return true
}
