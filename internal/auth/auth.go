// Package auth runs the OAuth 2.0 consent flow against Google and keeps the
// resulting token in a local cache file between runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/calendar/v3"

	"crewcal/internal/fsutil"
	appLog "crewcal/internal/log"
)

// stateTTL bounds how long a consent round-trip may take.
const stateTTL = 10 * time.Minute

var ErrBadState = errors.New("auth: unknown or expired state")

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TokenCache is the file holding the last token (0600).
	TokenCache string
	// Endpoint overrides the Google endpoint (tests).
	Endpoint *oauth2.Endpoint
}

type Provider struct {
	conf      *oauth2.Config
	cachePath string

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func NewProvider(cfg Config) *Provider {
	ep := endpoints.Google
	if cfg.Endpoint != nil {
		ep = *cfg.Endpoint
	}
	return &Provider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes:       []string{calendar.CalendarScope},
		},
		cachePath: cfg.TokenCache,
		states:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// AuthCodeURL starts a consent round-trip and returns the URL to send the
// user to. The state is single-use.
func (p *Provider) AuthCodeURL() (string, string) {
	state := uuid.NewString()

	p.mu.Lock()
	now := p.now()
	for s, exp := range p.states {
		if now.After(exp) {
			delete(p.states, s)
		}
	}
	p.states[state] = now.Add(stateTTL)
	p.mu.Unlock()

	// Offline access yields a refresh token, so the cached credential
	// survives restarts.
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), state
}

// Exchange validates state and trades the authorization code for a token.
func (p *Provider) Exchange(ctx context.Context, state, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	exp, ok := p.states[state]
	delete(p.states, state)
	p.mu.Unlock()
	if !ok || p.now().After(exp) {
		return nil, ErrBadState
	}

	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchange code: %w", err)
	}
	return tok, nil
}

// TokenSource refreshes tok as needed and writes refreshed tokens back to
// the cache.
func (p *Provider) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return &savingSource{
		src:  p.conf.TokenSource(ctx, tok),
		p:    p,
		last: tok.AccessToken,
	}
}

// Cached returns the cached token, or nil when there is none.
func (p *Provider) Cached() (*oauth2.Token, error) {
	if p.cachePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: read token cache: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("auth: decode token cache: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, nil
	}
	return &tok, nil
}

func (p *Provider) Store(tok *oauth2.Token) error {
	if p.cachePath == "" || tok == nil {
		return nil
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(p.cachePath, data, 0o600); err != nil {
		return fmt.Errorf("auth: write token cache: %w", err)
	}
	return nil
}

// Discard forgets the cached token.
func (p *Provider) Discard() error {
	if p.cachePath == "" {
		return nil
	}
	if err := os.Remove(p.cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("auth: remove token cache: %w", err)
	}
	return nil
}

type savingSource struct {
	src oauth2.TokenSource
	p   *Provider

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if changed {
		if err := s.p.Store(tok); err != nil {
			appLog.Error("auth: could not cache refreshed token", err)
		} else {
			appLog.Debug("auth: refreshed token cached")
		}
	}
	return tok, nil
}
