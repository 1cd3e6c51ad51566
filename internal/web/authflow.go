package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"crewcal/internal/calsync"
	appLog "crewcal/internal/log"
)

// signInTimeout bounds the probe and initial loads after a consent.
const signInTimeout = 30 * time.Second

// handleLogin starts the consent flow. Backends without sign-in connect
// directly.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		if err := s.signIn(nil); err != nil {
			writeFailure(w, err)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	url, _ := s.auth.AuthCodeURL()
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusUnauthorized, "sign-in cancelled: "+e)
		return
	}

	tok, err := s.auth.Exchange(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		appLog.Warn("oauth callback rejected", "err", err.Error())
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.auth.Store(tok); err != nil {
		appLog.Error("could not cache token", err)
	}

	if err := s.signIn(tok); err != nil {
		if errors.Is(err, calsync.ErrSessionExpired) {
			_ = s.auth.Discard()
		}
		writeFailure(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.SignOut()
	if s.auth != nil {
		if err := s.auth.Discard(); err != nil {
			appLog.Error("could not discard token", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// signIn runs detached from the request so a client hanging up does not
// abort the initial loads halfway.
func (s *Server) signIn(tok *oauth2.Token) error {
	ctx, cancel := context.WithTimeout(context.Background(), signInTimeout)
	defer cancel()
	return s.ctrl.SignIn(ctx, tok)
}
