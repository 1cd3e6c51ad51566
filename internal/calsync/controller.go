// Package calsync keeps the server's view of the shared calendar: session
// state, the cached assignment events and the vocabulary. Every command goes
// through the Controller, which talks to the store outside its lock and
// notifies subscribers after each successful change.
package calsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"crewcal/internal/codec"
	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/store"
	"crewcal/internal/vocab"
)

var (
	ErrValidation     = errors.New("calsync: invalid input")
	ErrSignedOut      = errors.New("calsync: not signed in")
	ErrSessionExpired = errors.New("calsync: session expired, sign in again")
	ErrNotFound       = errors.New("calsync: assignment not found")
)

type State int

const (
	SignedOut State = iota
	Authenticating
	SignedIn
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case SignedIn:
		return "signed_in"
	default:
		return "signed_out"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connector opens the store for a credential. Backends without sign-in
// ignore the token.
type Connector interface {
	Connect(ctx context.Context, token *oauth2.Token) (store.Store, error)
}

type ConnectorFunc func(ctx context.Context, token *oauth2.Token) (store.Store, error)

func (f ConnectorFunc) Connect(ctx context.Context, token *oauth2.Token) (store.Store, error) {
	return f(ctx, token)
}

// CreateRequest carries the fields of a new assignment. End is inclusive.
type CreateRequest struct {
	Person  string     `json:"person"`
	Project string     `json:"project"`
	Role    string     `json:"role"`
	Start   model.Date `json:"start"`
	End     model.Date `json:"end"`
}

type Controller struct {
	connector Connector
	loc       *time.Location
	now       func() time.Time

	// editMu serializes vocabulary edits across their store round-trip.
	editMu sync.Mutex

	mu      sync.Mutex
	state   State
	st      store.Store
	adapter *vocab.Adapter
	vocab   model.Vocabulary
	// vocabStored reports whether vocab matches the sentinel rather than a
	// fallback adopted while the store was unreachable.
	vocabStored bool
	events      []store.Event
	loadedAt    time.Time
	lastErr     string
	// session changes on every sign-in/out; results from an older session
	// are discarded.
	session uint64
	// issued and applied order cache writes. Loads and mutations both take
	// a number; a load older than the last applied write is dropped.
	issued  uint64
	applied uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func New(connector Connector, loc *time.Location) *Controller {
	if loc == nil {
		loc = time.Local
	}
	return &Controller{
		connector: connector,
		loc:       loc,
		now:       time.Now,
		adapter:   vocab.NewAdapter(nil),
		vocab:     vocab.Default(),
		subs:      make(map[int]func(Change)),
	}
}

// SignIn connects with token, validates it and loads vocabulary and events.
// A rejected credential leaves the controller signed out and returns
// ErrSessionExpired so the caller can discard the token.
func (c *Controller) SignIn(ctx context.Context, token *oauth2.Token) error {
	c.mu.Lock()
	c.session++
	session := c.session
	c.state = Authenticating
	c.mu.Unlock()
	c.notify(ChangeSession)

	st, err := c.connector.Connect(ctx, token)
	if err == nil {
		err = st.Probe(ctx)
	}
	if err != nil {
		c.abortSignIn(session, err)
		if errors.Is(err, store.ErrUnauthorized) {
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return fmt.Errorf("calsync: connect: %w", err)
	}

	adapter := vocab.NewAdapter(st)
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return ErrSignedOut
	}
	c.state = SignedIn
	c.st = st
	c.adapter = adapter
	c.vocabStored = false
	c.lastErr = ""
	c.mu.Unlock()
	appLog.Info("calsync: signed in")
	c.notify(ChangeSession)

	if err := c.LoadVocabulary(ctx); err != nil {
		return err
	}
	return c.LoadEvents(ctx)
}

func (c *Controller) abortSignIn(session uint64, err error) {
	c.mu.Lock()
	if c.session == session {
		c.state = SignedOut
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	appLog.Warn("calsync: sign-in failed", "err", err.Error())
	c.notify(ChangeSession)
}

// SignOut drops the store handle, the cache and the vocabulary.
func (c *Controller) SignOut() {
	c.mu.Lock()
	c.signOutLocked()
	c.mu.Unlock()
	appLog.Info("calsync: signed out")
	c.notify(ChangeSession, ChangeEvents, ChangeConfig)
}

func (c *Controller) signOutLocked() {
	c.session++
	c.state = SignedOut
	c.st = nil
	c.adapter = vocab.NewAdapter(nil)
	c.vocab = vocab.Default()
	c.vocabStored = false
	c.events = nil
	c.loadedAt = time.Time{}
}

// LoadVocabulary reloads the vocabulary from the sentinel event. When the
// store is unreachable a vocabulary already read this session is kept; the
// defaults are only adopted if there is nothing better, so a later edit
// cannot write them over the shared lists.
func (c *Controller) LoadVocabulary(ctx context.Context) error {
	c.mu.Lock()
	adapter, session := c.adapter, c.session
	c.mu.Unlock()

	v, err := adapter.Load(ctx)
	stored := err == nil
	if errors.Is(err, vocab.ErrUnavailable) {
		c.mu.Lock()
		keep := c.session == session && c.vocabStored
		if c.session == session {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if keep {
			appLog.Warn("calsync: vocabulary reload failed, keeping current", "err", err.Error())
			return nil
		}
		appLog.Warn("calsync: vocabulary unavailable, using defaults", "err", err.Error())
		err = nil
	}
	if err != nil {
		return c.fail(session, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return ErrSignedOut
	}
	c.vocab = v
	c.vocabStored = stored
	c.mu.Unlock()
	c.notify(ChangeConfig)
	return nil
}

// LoadEvents replaces the cache with every assignment event from January 1
// of the current year through December 31 of the next.
func (c *Controller) LoadEvents(ctx context.Context) error {
	c.mu.Lock()
	if c.st == nil {
		c.mu.Unlock()
		return ErrSignedOut
	}
	st, session := c.st, c.session
	c.issued++
	seq := c.issued
	year := c.now().In(c.loc).Year()
	c.mu.Unlock()

	events, err := st.List(ctx, store.Query{
		TimeMin: time.Date(year, time.January, 1, 0, 0, 0, 0, c.loc),
		TimeMax: time.Date(year+2, time.January, 1, 0, 0, 0, 0, c.loc),
	})
	if err != nil {
		return c.fail(session, err)
	}

	kept := make([]store.Event, 0, len(events))
	for _, ev := range events {
		if !vocab.IsSentinel(ev) {
			kept = append(kept, ev)
		}
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return ErrSignedOut
	}
	if seq <= c.applied {
		c.mu.Unlock()
		appLog.Debug("calsync: dropping stale load", "seq", seq)
		return nil
	}
	c.applied = seq
	c.events = kept
	c.loadedAt = c.now()
	c.lastErr = ""
	c.mu.Unlock()

	appLog.Info("calsync: events loaded", "count", len(kept), "year", year)
	c.notify(ChangeEvents)
	return nil
}

func (c *Controller) CreateAssignment(ctx context.Context, req CreateRequest) (model.Assignment, error) {
	t := codec.Triple{
		Person:  strings.TrimSpace(req.Person),
		Project: strings.TrimSpace(req.Project),
		Role:    strings.TrimSpace(req.Role),
	}
	if t.Person == "" || t.Project == "" || t.Role == "" {
		return model.Assignment{}, fmt.Errorf("%w: person, project and role are required", ErrValidation)
	}
	if err := checkSpan(req.Start, req.End); err != nil {
		return model.Assignment{}, err
	}

	st, session, err := c.handle()
	if err != nil {
		return model.Assignment{}, err
	}

	start, end := codec.ToStoreSpan(req.Start, req.End)
	created, err := st.Insert(ctx, store.Event{
		Summary: codec.Encode(t),
		Start:   start,
		End:     end,
		AllDay:  true,
	})
	if err != nil {
		return model.Assignment{}, c.fail(session, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return model.Assignment{}, ErrSignedOut
	}
	c.events = append(c.events, created)
	c.markApplied()
	a := c.assignment(created)
	c.mu.Unlock()

	appLog.Info("calsync: assignment created", "id", created.ID, "title", created.Summary)
	c.notify(ChangeEvents)
	return a, nil
}

// UpdateAssignment moves an assignment to a new inclusive span, keeping its
// title and metadata. The store may answer with a different ID (a detached
// recurring instance); the cache follows it.
func (c *Controller) UpdateAssignment(ctx context.Context, id string, start, end model.Date) (model.Assignment, error) {
	if err := checkSpan(start, end); err != nil {
		return model.Assignment{}, err
	}

	c.mu.Lock()
	if c.st == nil {
		c.mu.Unlock()
		return model.Assignment{}, ErrSignedOut
	}
	st, session := c.st, c.session
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return model.Assignment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ev := c.events[i]
	ev.Shared = store.CloneShared(ev.Shared)
	c.mu.Unlock()

	ev.Start, ev.End = codec.ToStoreSpan(start, end)
	ev.AllDay = true
	updated, err := st.Update(ctx, ev)
	if err != nil {
		return model.Assignment{}, c.fail(session, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return model.Assignment{}, ErrSignedOut
	}
	if i := c.indexOf(id); i >= 0 {
		c.events[i] = updated
	} else {
		c.events = append(c.events, updated)
	}
	c.markApplied()
	a := c.assignment(updated)
	c.mu.Unlock()

	appLog.Info("calsync: assignment updated", "id", id, "new_id", updated.ID, "start", start.String(), "end", end.String())
	c.notify(ChangeEvents)
	return a, nil
}

// DeleteAssignment removes an assignment. An event that is already gone
// from the store is dropped from the cache without error.
func (c *Controller) DeleteAssignment(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.st == nil {
		c.mu.Unlock()
		return ErrSignedOut
	}
	st, session := c.st, c.session
	if c.indexOf(id) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.mu.Unlock()

	if err := st.Delete(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return c.fail(session, err)
		}
		appLog.Warn("calsync: event already deleted", "id", id)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return ErrSignedOut
	}
	if i := c.indexOf(id); i >= 0 {
		c.events = append(c.events[:i], c.events[i+1:]...)
	}
	c.markApplied()
	c.mu.Unlock()

	appLog.Info("calsync: assignment deleted", "id", id)
	c.notify(ChangeEvents)
	return nil
}

func (c *Controller) AddPerson(ctx context.Context, name string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.AddPerson(v, name) })
}

func (c *Controller) RemovePerson(ctx context.Context, name string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.RemovePerson(v, name) })
}

func (c *Controller) AddProject(ctx context.Context, name string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.AddProject(v, name) })
}

func (c *Controller) RemoveProject(ctx context.Context, name string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.RemoveProject(v, name) })
}

func (c *Controller) AddRole(ctx context.Context, name, color string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.AddRole(v, name, color) })
}

func (c *Controller) RemoveRole(ctx context.Context, name string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.RemoveRole(v, name) })
}

func (c *Controller) SetRoleColor(ctx context.Context, name, color string) error {
	return c.editVocabulary(ctx, func(v *model.Vocabulary) error { return vocab.SetRoleColor(v, name, color) })
}

// editVocabulary applies edit to a copy, persists the copy and adopts it
// only once the store accepted it. Signed out, the edit stays local.
func (c *Controller) editVocabulary(ctx context.Context, edit func(*model.Vocabulary) error) error {
	c.editMu.Lock()
	defer c.editMu.Unlock()

	c.mu.Lock()
	next := c.vocab.Clone()
	adapter, session := c.adapter, c.session
	c.mu.Unlock()

	if err := edit(&next); err != nil {
		return err
	}
	if err := adapter.Save(ctx, next); err != nil {
		return c.fail(session, err)
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return ErrSignedOut
	}
	c.vocab = next
	c.vocabStored = adapter.Persistent()
	c.mu.Unlock()
	c.notify(ChangeConfig)
	return nil
}

// fail records err and ends the session when the store rejected the
// credential.
func (c *Controller) fail(session uint64, err error) error {
	unauthorized := errors.Is(err, store.ErrUnauthorized)

	c.mu.Lock()
	current := c.session == session
	if current {
		c.lastErr = err.Error()
		if unauthorized {
			c.signOutLocked()
		}
	}
	c.mu.Unlock()

	switch {
	case unauthorized:
		appLog.Warn("calsync: credential rejected, signing out", "err", err.Error())
		if current {
			c.notify(ChangeSession, ChangeEvents, ChangeConfig)
		}
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		appLog.Error("calsync: store call failed", err)
		return err
	}
}

func (c *Controller) handle() (store.Store, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == nil {
		return nil, 0, ErrSignedOut
	}
	return c.st, c.session, nil
}

func (c *Controller) markApplied() {
	c.issued++
	c.applied = c.issued
}

func (c *Controller) indexOf(id string) int {
	for i, ev := range c.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func checkSpan(start, end model.Date) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrValidation)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrValidation, end, start)
	}
	return nil
}
