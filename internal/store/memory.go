package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs the "memory" backend (demo mode)
// and the tests of every package above the store.
type Memory struct {
	mu     sync.Mutex
	events map[string]Event
	loc    *time.Location
}

// NewMemory returns an empty store. loc is used to map query instants to
// dates; nil means time.Local.
func NewMemory(loc *time.Location) *Memory {
	if loc == nil {
		loc = time.Local
	}
	return &Memory{events: make(map[string]Event), loc: loc}
}

func (m *Memory) List(_ context.Context, q Query) ([]Event, error) {
	from, to := Window(q, m.loc)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		if !q.TimeMin.IsZero() && !q.TimeMax.IsZero() && !ev.Covers(from, to) {
			continue
		}
		if q.Text != "" && !strings.Contains(strings.ToLower(ev.Summary), strings.ToLower(q.Text)) {
			continue
		}
		ev.Shared = CloneShared(ev.Shared)
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Insert(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.AllDay = true
	ev.Shared = CloneShared(ev.Shared)
	m.events[ev.ID] = ev
	return ev, nil
}

func (m *Memory) Update(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[ev.ID]; !ok {
		return Event{}, ErrNotFound
	}
	ev.AllDay = true
	ev.Shared = CloneShared(ev.Shared)
	m.events[ev.ID] = ev
	return ev, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) Probe(context.Context) error { return nil }

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
