// Package gcal implements store.Store on top of the Google Calendar API v3.
// All events live in one shared calendar; the vocabulary payload and any
// other metadata travel in the events' shared extended properties.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/store"
)

const dateLayout = "2006-01-02"

type Store struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
}

// New connects to calendarID. loc maps timed events to local dates; nil
// means time.Local. Authentication comes from opts (normally
// option.WithTokenSource).
func New(ctx context.Context, calendarID string, loc *time.Location, opts ...option.ClientOption) (*Store, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: new service: %w", err)
	}
	return &Store{svc: svc, calendarID: calendarID, loc: loc}, nil
}

func (s *Store) List(ctx context.Context, q store.Query) ([]store.Event, error) {
	call := s.svc.Events.List(s.calendarID).
		SingleEvents(true).
		ShowDeleted(false).
		MaxResults(2500)
	if !q.TimeMin.IsZero() {
		call = call.TimeMin(q.TimeMin.Format(time.RFC3339))
	}
	if !q.TimeMax.IsZero() {
		call = call.TimeMax(q.TimeMax.Format(time.RFC3339))
	}
	if q.Text != "" {
		call = call.Q(q.Text)
	}

	var out []store.Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := s.fromAPI(item)
			if err != nil {
				appLog.Warn("gcal: skipping unreadable event", "id", item.Id, "err", err.Error())
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr("list events", err)
	}
	appLog.Debug("gcal: listed events", "calendar", s.calendarID, "count", len(out))
	return out, nil
}

func (s *Store) Insert(ctx context.Context, ev store.Event) (store.Event, error) {
	created, err := s.svc.Events.Insert(s.calendarID, toAPI(ev)).Context(ctx).Do()
	if err != nil {
		return store.Event{}, mapErr("insert event", err)
	}
	return s.fromAPI(created)
}

func (s *Store) Update(ctx context.Context, ev store.Event) (store.Event, error) {
	if ev.ID == "" {
		return store.Event{}, store.ErrNotFound
	}
	// Patch, not Update: description, location, colour, attendees and
	// reminders edited in Google Calendar must survive a move in crewcal.
	updated, err := s.svc.Events.Patch(s.calendarID, ev.ID, toPatch(ev)).Context(ctx).Do()
	if err != nil {
		return store.Event{}, mapErr("update event "+ev.ID, err)
	}
	return s.fromAPI(updated)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.svc.Events.Delete(s.calendarID, id).Context(ctx).Do(); err != nil {
		return mapErr("delete event "+id, err)
	}
	return nil
}

// Probe fetches the calendar's metadata, which fails fast on a bad token.
func (s *Store) Probe(ctx context.Context) error {
	if _, err := s.svc.Calendars.Get(s.calendarID).Context(ctx).Do(); err != nil {
		return mapErr("probe calendar", err)
	}
	return nil
}

func toAPI(ev store.Event) *calendar.Event {
	out := &calendar.Event{
		Summary: ev.Summary,
		Start:   &calendar.EventDateTime{Date: ev.Start.String()},
		End:     &calendar.EventDateTime{Date: ev.End.String()},
	}
	if len(ev.Shared) > 0 {
		out.ExtendedProperties = &calendar.EventExtendedProperties{Shared: store.CloneShared(ev.Shared)}
	}
	return out
}

// toPatch carries only the fields crewcal owns. Start and end clear any
// dateTime so a timed event becomes all-day; shared properties are merged
// key by key by the API.
func toPatch(ev store.Event) *calendar.Event {
	out := &calendar.Event{
		Summary: ev.Summary,
		Start:   &calendar.EventDateTime{Date: ev.Start.String(), NullFields: []string{"DateTime"}},
		End:     &calendar.EventDateTime{Date: ev.End.String(), NullFields: []string{"DateTime"}},
	}
	if len(ev.Shared) > 0 {
		out.ExtendedProperties = &calendar.EventExtendedProperties{Shared: store.CloneShared(ev.Shared)}
	}
	return out
}

func (s *Store) fromAPI(item *calendar.Event) (store.Event, error) {
	ev := store.Event{ID: item.Id, Summary: item.Summary}
	if item.ExtendedProperties != nil {
		ev.Shared = store.CloneShared(item.ExtendedProperties.Shared)
	}
	if item.Start == nil || item.End == nil {
		return ev, errors.New("event has no start or end")
	}

	if item.Start.Date != "" {
		start, err := time.Parse(dateLayout, item.Start.Date)
		if err != nil {
			return ev, fmt.Errorf("start date: %w", err)
		}
		end, err := time.Parse(dateLayout, item.End.Date)
		if err != nil {
			return ev, fmt.Errorf("end date: %w", err)
		}
		ev.AllDay = true
		ev.Start, ev.End = model.DateOf(start), model.DateOf(end)
	} else {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return ev, fmt.Errorf("start time: %w", err)
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return ev, fmt.Errorf("end time: %w", err)
		}
		ev.Start = model.DateOf(start.In(s.loc))
		// The end instant is exclusive: an event ending at midnight does not
		// cover the following day.
		ev.End = model.DateOf(end.Add(-time.Nanosecond).In(s.loc)).AddDays(1)
	}

	if !ev.End.After(ev.Start) {
		ev.End = ev.Start.AddDays(1)
	}
	return ev, nil
}

// mapErr translates API failures into store errors so callers never inspect
// HTTP codes.
func mapErr(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("gcal: %s: %w: %v", op, store.ErrUnauthorized, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("gcal: %s: %w: %v", op, store.ErrUnauthorized, err)
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("gcal: %s: %w", op, store.ErrNotFound)
		}
	}
	return fmt.Errorf("gcal: %s: %w", op, err)
}
