package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/coordinator"
	"github.com/NicolasHaas/screenshare/pkg/lookup"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/rbac"
	"github.com/NicolasHaas/screenshare/pkg/version"
)

// maxUserMatches caps GET /api/v1/users, which backs name completion.
const maxUserMatches = 50

// APIError is the JSON body of every non-2xx admin API response.
type APIError struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Origin string `json:"origin,omitempty"` // set for already_active
}

// Info is the body of GET /api/v1/info.
type Info struct {
	Version         string `json:"version"`
	TargetEndpoint  string `json:"target_endpoint"`
	OnJoinCommand   string `json:"on_join_command"`
	OnReturnCommand string `json:"on_return_command"`
	JoinDelay       string `json:"join_delay"`
	LookupTimeout   string `json:"lookup_timeout"`
	PluginChannel   string `json:"plugin_channel"`
	ActiveSessions  int    `json:"active_sessions"`
	PendingLookups  int    `json:"pending_lookups"`
	OnlineUsers     int    `json:"online_users"`
	Started         string `json:"started"`
}

// StartAdminHTTP starts the admin API, /metrics and /healthz. It runs in the
// background and shuts down with the server.
func (s *Server) StartAdminHTTP() error {
	addr := s.cfg.AdminAddr
	if addr == "" {
		return nil // admin API disabled
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen admin: %w", err)
	}
	s.adminLn = ln
	s.adminSrv = &http.Server{
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("admin HTTP listening", "addr", ln.Addr().String())
		if err := s.adminSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin HTTP error", "err", err)
		}
	}()
	return nil
}

// AdminHandler returns the admin API routes.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.Handle("GET /api/v1/info", s.authorize(model.PermViewInfo, s.handleInfo))
	mux.Handle("GET /api/v1/sessions", s.authorize(model.PermViewSessions, s.handleListSessions))
	mux.Handle("POST /api/v1/sessions/{user}", s.authorize(model.PermStartSession, s.handleStart))
	mux.Handle("DELETE /api/v1/sessions/{user}", s.authorize(model.PermEndSession, s.handleEnd))
	mux.Handle("GET /api/v1/users", s.authorize(model.PermViewSessions, s.handleUsers))
	mux.Handle("GET /api/v1/history", s.authorize(model.PermViewHistory, s.handleHistory))
	mux.Handle("GET /api/v1/events", s.authorize(model.PermViewSessions, s.handleEvents))
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, tok model.APIToken)

func (s *Server) authorize(perm model.Permission, h authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.APIRequests.Add(1)
		raw, ok := bearerToken(r)
		if !ok {
			s.metrics.APIDenied.Add(1)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		tok, ok := s.tokens.verify(raw, s.clock.Now())
		if !ok {
			s.metrics.APIDenied.Add(1)
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		if msg := rbac.RequirePermission(tok.Role, perm); msg != "" {
			s.metrics.APIDenied.Add(1)
			slog.Info("admin request denied", "token", tok.Name, "role", tok.Role, "perm", perm, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "forbidden", msg)
			return
		}
		h(w, r, tok)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, _ model.APIToken) {
	cfg := s.coord.Config()
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, Info{
		Version:         version.Full(),
		TargetEndpoint:  cfg.TargetEndpoint,
		OnJoinCommand:   cfg.OnJoinTemplate,
		OnReturnCommand: cfg.OnReturnTemplate,
		JoinDelay:       cfg.JoinDelay.String(),
		LookupTimeout:   s.lookups.Timeout().String(),
		PluginChannel:   s.messages.Channel(),
		ActiveSessions:  s.coord.ActiveCount(),
		PendingLookups:  s.lookups.Len(),
		OnlineUsers:     s.conns.Count(),
		Started:         snap.Started,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request, _ model.APIToken) {
	sessions := s.coord.Sessions()
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, tok model.APIToken) {
	s.runCoordinator(w, r, tok, s.coord.Start)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request, tok model.APIToken) {
	s.runCoordinator(w, r, tok, s.coord.End)
}

type coordinatorOp func(ctx context.Context, requester string, id model.UserID) (coordinator.Result, error)

func (s *Server) runCoordinator(w http.ResponseWriter, r *http.Request, tok model.APIToken, op coordinatorOp) {
	requester, err := requesterOf(r, tok)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_requester", err.Error())
		return
	}
	u, status, err := s.resolveUser(r.PathValue("user"))
	if err != nil {
		writeError(w, status, codeFor(status), err.Error())
		return
	}
	res, err := op(r.Context(), requester, u.ID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// requesterOf names the operator on whose behalf the call is made: the
// requester query parameter (an in-game name) or else the token name.
func requesterOf(r *http.Request, tok model.APIToken) (string, error) {
	name := r.URL.Query().Get("requester")
	if name == "" {
		return "api:" + tok.Name, nil
	}
	if err := model.ValidateUsername(name); err != nil {
		return "", fmt.Errorf("requester %q: %w", name, err)
	}
	return name, nil
}

// resolveUser accepts a UUID or the display name of an online user.
func (s *Server) resolveUser(ref string) (model.User, int, error) {
	if id, err := model.ParseUserID(ref); err == nil {
		if u, ok := s.conns.Online(id); ok {
			return u, 0, nil
		}
		// The coordinator reports offline users itself.
		return model.User{ID: id}, 0, nil
	}
	if err := model.ValidateUsername(ref); err != nil {
		return model.User{}, http.StatusBadRequest, fmt.Errorf("user %q: %w", ref, err)
	}
	u, ok := s.conns.ByName(ref)
	if !ok {
		return model.User{}, http.StatusNotFound, fmt.Errorf("user %q is not online", ref)
	}
	return u, 0, nil
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ model.APIToken) {
	writeJSON(w, http.StatusOK, s.conns.Users(r.URL.Query().Get("prefix"), maxUserMatches))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ model.APIToken) {
	q := r.URL.Query()
	var filters model.EventFilters
	if ref := q.Get("user"); ref != "" {
		u, status, err := s.resolveUser(ref)
		if err != nil {
			writeError(w, status, codeFor(status), err.Error())
			return
		}
		filters.LimitToUserID = &u.ID
	}
	if k := q.Get("kind"); k != "" {
		kind := model.EventKind(k)
		filters.LimitToKind = &kind
	}
	for name, dst := range map[string]**int64{"limit": &filters.PageSize, "offset": &filters.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("%s must be a non-negative integer", name))
			return
		}
		*dst = &n
	}

	events, err := s.journal.List(r.Context(), filters)
	if err != nil {
		slog.Error("journal list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "journal unavailable")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEvents streams coordinator events as newline-delimited JSON until the
// client goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, tok model.APIToken) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	events, cancel := s.events.subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	slog.Debug("event stream opened", "token", tok.Name)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	var active *coordinator.AlreadyActiveError
	switch {
	case errors.As(err, &active):
		writeJSON(w, http.StatusConflict, APIError{Error: err.Error(), Code: "already_active", Origin: active.Origin})
	case errors.Is(err, coordinator.ErrAlreadyOnTarget):
		writeError(w, http.StatusConflict, "already_on_target", err.Error())
	case errors.Is(err, lookup.ErrLookupInProgress):
		writeError(w, http.StatusConflict, "lookup_in_progress", err.Error())
	case errors.Is(err, coordinator.ErrLocationUnknown):
		writeError(w, http.StatusGatewayTimeout, "location_unknown", err.Error())
	case errors.Is(err, coordinator.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, "no_active_session", err.Error())
	case errors.Is(err, coordinator.ErrUserOffline):
		writeError(w, http.StatusNotFound, "user_offline", err.Error())
	case errors.Is(err, coordinator.ErrSelfTarget):
		writeError(w, http.StatusBadRequest, "self_target", err.Error())
	case errors.Is(err, coordinator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		slog.Error("coordinator request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "user_offline"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, APIError{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("admin response write failed", "err", err)
	}
}
