// Package store defines the external event store the scheduler runs on: one
// shared calendar holding all-day events with a title and shared metadata.
package store

import (
	"context"
	"errors"
	"time"

	"crewcal/internal/model"
)

var (
	// ErrUnauthorized means the credential was rejected or expired. Callers
	// must sign out instead of retrying.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrNotFound means the event ID does not exist (or no longer exists).
	ErrNotFound = errors.New("store: event not found")
	// ErrReadOnly is returned by mirrors that cannot be written.
	ErrReadOnly = errors.New("store: read-only calendar")
)

// Event is a single calendar entry as the store sees it. End is exclusive
// (the day after the last covered day), as in iCalendar and Google Calendar.
type Event struct {
	ID      string
	Summary string
	Start   model.Date
	End     model.Date
	// AllDay is false for timed events; their Start/End have been reduced to
	// local dates by the adapter.
	AllDay bool
	// Shared holds metadata visible to every client of the calendar.
	Shared map[string]string
}

// Covers reports whether the event's [Start, End) span intersects the
// inclusive window [from, to].
func (e Event) Covers(from, to model.Date) bool {
	return e.Start.Before(to.AddDays(1)) && e.End.After(from)
}

// Query selects events overlapping [TimeMin, TimeMax). Text, when set, is a
// free-text hint; stores may ignore it or match loosely, so callers filter
// the result themselves.
type Query struct {
	TimeMin time.Time
	TimeMax time.Time
	Text    string
}

// Store is the contract every calendar backend implements. List expands
// recurring events into single instances.
type Store interface {
	List(ctx context.Context, q Query) ([]Event, error)
	Insert(ctx context.Context, ev Event) (Event, error)
	Update(ctx context.Context, ev Event) (Event, error)
	Delete(ctx context.Context, id string) error
	// Probe is a cheap call used to validate a credential.
	Probe(ctx context.Context) error
}

// Window converts the query's half-open time range into the inclusive date
// window [from, to] in loc.
func Window(q Query, loc *time.Location) (model.Date, model.Date) {
	if loc == nil {
		loc = time.Local
	}
	from := model.DateOf(q.TimeMin.In(loc))
	to := model.DateOf(q.TimeMax.Add(-time.Nanosecond).In(loc))
	return from, to
}

// CloneShared copies a metadata map.
func CloneShared(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
