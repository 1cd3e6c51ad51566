// Package web serves the scheduling UI and its JSON API on top of a
// calsync.Controller.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"crewcal/internal/calsync"
	"crewcal/internal/config"
	appLog "crewcal/internal/log"
	"crewcal/internal/store"
	"crewcal/internal/vocab"
)

// Authenticator runs the OAuth consent flow. It is nil for backends that
// need no sign-in.
type Authenticator interface {
	AuthCodeURL() (url string, state string)
	Exchange(ctx context.Context, state, code string) (*oauth2.Token, error)
	Store(tok *oauth2.Token) error
	Discard() error
}

// Server provides the HTML pages, the JSON API and change notifications.
type Server struct {
	cfg  *config.Config
	ctrl *calsync.Controller
	auth Authenticator
	hub  *Hub
	mux  *http.ServeMux
}

// embeddedStatic holds the month-calendar page and its assets.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server and subscribes its websocket hub to ctrl.
// auth may be nil.
func NewServer(cfg *config.Config, ctrl *calsync.Controller, auth Authenticator) *Server {
	s := &Server{
		cfg:  cfg,
		ctrl: ctrl,
		auth: auth,
		hub:  NewHub(),
		mux:  http.NewServeMux(),
	}
	ctrl.Subscribe(s.hub.Publish)
	s.registerRoutes()
	return s
}

// Run drives the websocket hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables it.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="crewcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /overview", s.handleOverviewPage)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/assignments", s.handleCreateAssignment)
	s.mux.HandleFunc("PATCH /api/assignments/{id}", s.handleUpdateAssignment)
	s.mux.HandleFunc("DELETE /api/assignments/{id}", s.handleDeleteAssignment)
	s.mux.HandleFunc("GET /api/overview", s.handleOverviewJSON)
	s.mux.HandleFunc("GET /api/overview.xlsx", s.handleOverviewXLSX)

	s.mux.HandleFunc("POST /api/personnel", s.handleAddPerson)
	s.mux.HandleFunc("DELETE /api/personnel/{name}", s.handleRemovePerson)
	s.mux.HandleFunc("POST /api/projects", s.handleAddProject)
	s.mux.HandleFunc("DELETE /api/projects/{name}", s.handleRemoveProject)
	s.mux.HandleFunc("POST /api/roles", s.handleAddRole)
	s.mux.HandleFunc("PATCH /api/roles/{name}", s.handleSetRoleColor)
	s.mux.HandleFunc("DELETE /api/roles/{name}", s.handleRemoveRole)

	s.mux.HandleFunc("GET /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/callback", s.handleCallback)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)

	// Everything else is the embedded UI.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// staticFileServer serves the embedded files under internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown API paths get a JSON 404, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "no such endpoint")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// handlePreview serves the last overview snapshot from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil || s.cfg.Snapshot.Path == "" {
		http.NotFound(w, r)
		return
	}
	// http.ServeFile answers 404 for a missing file.
	http.ServeFile(w, r, s.cfg.Snapshot.Path)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps controller and store errors to HTTP statuses. Session
// errors carry the sign-in URL so the client can re-authenticate.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calsync.ErrSessionExpired), errors.Is(err, calsync.ErrSignedOut):
		type reauthResp struct {
			Error  string `json:"error"`
			Reauth string `json:"reauth"`
		}
		writeJSON(w, http.StatusUnauthorized, reauthResp{Error: err.Error(), Reauth: "/auth/login"})
	case errors.Is(err, vocab.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, calsync.ErrValidation),
		errors.Is(err, vocab.ErrEmptyName),
		errors.Is(err, vocab.ErrBadColor),
		errors.Is(err, vocab.ErrAmbiguousName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calsync.ErrNotFound), errors.Is(err, vocab.ErrUnknown):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrReadOnly):
		writeError(w, http.StatusMethodNotAllowed, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
