package calsync

import (
	"slices"
	"time"

	"crewcal/internal/codec"
	"crewcal/internal/model"
	"crewcal/internal/overview"
	"crewcal/internal/store"
	"crewcal/internal/vocab"
)

// CalendarEvent is one bar in the month calendar widget. End is exclusive,
// as calendar widgets expect.
type CalendarEvent struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Start  model.Date `json:"start"`
	End    model.Date `json:"end"`
	AllDay bool       `json:"allDay"`
	Color  string     `json:"color"`
	Props  EventProps `json:"extendedProps"`
}

type EventProps struct {
	Person  string `json:"person"`
	Project string `json:"project"`
	Role    string `json:"role"`
	Valid   bool   `json:"valid"`
	// LastDay is the inclusive end shown in edit dialogs.
	LastDay model.Date `json:"lastDay"`
}

type FilterOptions struct {
	Personnel []string `json:"personnel"`
	Projects  []string `json:"projects"`
}

type Status struct {
	State     State     `json:"state"`
	Events    int       `json:"events"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Assignments decodes every cached event against the current vocabulary,
// ordered by start date.
func (c *Controller) Assignments() []model.Assignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignmentsLocked()
}

func (c *Controller) assignmentsLocked() []model.Assignment {
	out := make([]model.Assignment, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, c.assignment(ev))
	}
	slices.SortStableFunc(out, func(a, b model.Assignment) int {
		switch {
		case a.Start.Before(b.Start):
			return -1
		case a.Start.After(b.Start):
			return 1
		}
		return 0
	})
	return out
}

// assignment must be called with c.mu held.
func (c *Controller) assignment(ev store.Event) model.Assignment {
	t := codec.Decode(ev.Summary)
	valid, color := vocab.NewResolver(c.vocab).Resolve(t)
	start, end := codec.FromStoreSpan(ev.Start, ev.End)
	return model.Assignment{
		ID:      ev.ID,
		Person:  t.Person,
		Project: t.Project,
		Role:    t.Role,
		Start:   start,
		End:     end,
		Valid:   valid,
		Color:   color,
	}
}

// CalendarEvents returns the widget events passing f.
func (c *Controller) CalendarEvents(f model.Filter) []CalendarEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []CalendarEvent{}
	for _, ev := range c.events {
		a := c.assignment(ev)
		if !f.Match(a) {
			continue
		}
		start, end := codec.ToStoreSpan(a.Start, a.End)
		out = append(out, CalendarEvent{
			ID:     a.ID,
			Title:  ev.Summary,
			Start:  start,
			End:    end,
			AllDay: true,
			Color:  a.Color,
			Props: EventProps{
				Person:  a.Person,
				Project: a.Project,
				Role:    a.Role,
				Valid:   a.Valid,
				LastDay: a.End,
			},
		})
	}
	return out
}

// Overview builds the two-year grid starting at year (0 means the current
// year).
func (c *Controller) Overview(year int, f model.Filter) overview.Grid {
	now := c.now().In(c.loc)
	if year == 0 {
		year = now.Year()
	}

	c.mu.Lock()
	in := overview.Input{
		Assignments: c.assignmentsLocked(),
		Vocabulary:  c.vocab.Clone(),
		Filter:      f,
		Year:        year,
		Today:       model.DateOf(now),
	}
	c.mu.Unlock()

	return overview.Build(in)
}

func (c *Controller) FilterOptions() FilterOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FilterOptions{
		Personnel: append([]string{}, c.vocab.Personnel...),
		Projects:  append([]string{}, c.vocab.Projects...),
	}
}

func (c *Controller) Vocabulary() model.Vocabulary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vocab.Clone()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Events:    len(c.events),
		LoadedAt:  c.loadedAt,
		LastError: c.lastErr,
	}
}
