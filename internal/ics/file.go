package ics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"crewcal/internal/fsutil"
	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/store"
)

// Unbounded queries are expanded over this window.
var (
	openFrom = model.NewDate(1990, time.January, 1)
	openTo   = model.NewDate(2100, time.December, 31)
)

// FileStore keeps the shared calendar in a local .ics file. Every call
// re-reads the file so edits by other tools are picked up; writes replace
// it atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
}

func NewFileStore(path string, loc *time.Location) *FileStore {
	if loc == nil {
		loc = time.Local
	}
	return &FileStore{path: path, loc: loc}
}

func (s *FileStore) List(_ context.Context, q store.Query) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return nil, err
	}
	return listEvents(s.path, parseEvents(s.path, cal), q, s.loc)
}

func (s *FileStore) Insert(_ context.Context, ev store.Event) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return store.Event{}, err
	}
	ev = normalize(ev)
	ev.ID = uuid.NewString()
	writeVEvent(cal.AddEvent(ev.ID), ev, 0)
	if err := s.save(cal); err != nil {
		return store.Event{}, err
	}
	return ev, nil
}

// Update rewrites an event. An occurrence of a recurring series is
// detached: the series gets an EXDATE and the occurrence becomes a
// standalone event with a new ID, which is returned.
func (s *FileStore) Update(_ context.Context, ev store.Event) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return store.Event{}, err
	}
	ev = normalize(ev)

	if ve := findBase(cal, ev.ID); ve != nil {
		seq := 0
		if parsed, err := parseVEvent(ve); err == nil {
			seq = parsed.Seq + 1
		}
		writeVEvent(ve, ev, seq)
	} else {
		uid, day, ok := splitInstanceID(ev.ID)
		base := findBase(cal, uid)
		if !ok || base == nil {
			return store.Event{}, fmt.Errorf("ics: update %s: %w", ev.ID, store.ErrNotFound)
		}
		if err := excludeOccurrence(cal, base, day); err != nil {
			return store.Event{}, err
		}
		ev.ID = uuid.NewString()
		writeVEvent(cal.AddEvent(ev.ID), ev, 0)
		appLog.Info("ics: detached occurrence from series", "series", uid, "day", day.String(), "id", ev.ID)
	}

	if err := s.save(cal); err != nil {
		return store.Event{}, err
	}
	return ev, nil
}

// Delete removes an event, or excludes one occurrence of a series.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return err
	}

	if findBase(cal, id) != nil {
		removeAll(cal, id)
	} else {
		uid, day, ok := splitInstanceID(id)
		base := findBase(cal, uid)
		if !ok || base == nil {
			return fmt.Errorf("ics: delete %s: %w", id, store.ErrNotFound)
		}
		if err := excludeOccurrence(cal, base, day); err != nil {
			return err
		}
	}
	return s.save(cal)
}

// Probe checks that the file is readable (a missing file is fine).
func (s *FileStore) Probe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err
}

func (s *FileStore) load() (*ical.Calendar, error) {
	body, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newCalendar(), nil
		}
		return nil, fmt.Errorf("ics: read %s: %w", s.path, err)
	}
	return parseCalendar(body)
}

func (s *FileStore) save(cal *ical.Calendar) error {
	if err := fsutil.WriteFileAtomic(s.path, []byte(cal.Serialize()), 0o600); err != nil {
		return fmt.Errorf("ics: write %s: %w", s.path, err)
	}
	return nil
}

// listEvents expands parsed events over the query window and applies the
// text hint.
func listEvents(label string, parsed []ParsedEvent, q store.Query, loc *time.Location) ([]store.Event, error) {
	from, to := openFrom, openTo
	if !q.TimeMin.IsZero() && !q.TimeMax.IsZero() {
		from, to = store.Window(q, loc)
	}
	events, err := Expand(parsed, ExpandConfig{Location: loc, From: from, To: to})
	if err != nil {
		return nil, err
	}
	if q.Text == "" {
		return events, nil
	}
	needle := strings.ToLower(q.Text)
	kept := events[:0]
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Summary), needle) {
			kept = append(kept, ev)
		}
	}
	appLog.Debug("ics: listed events", "source", label, "count", len(kept))
	return kept, nil
}

func writeVEvent(ve *ical.VEvent, ev store.Event, seq int) {
	ve.SetDtStampTime(time.Now())
	ve.SetSummary(ev.Summary)
	// DATE values are zone-less; format them from UTC midnight.
	ve.SetAllDayStartAt(ev.Start.In(time.UTC))
	ve.SetAllDayEndAt(ev.End.In(time.UTC))
	ve.SetSequence(seq)
	encodeShared(ve, ev.Shared)
}

// normalize makes a degenerate span cover its start day and marks the
// event all-day, matching what writeVEvent stores.
func normalize(ev store.Event) store.Event {
	if !ev.End.After(ev.Start) {
		ev.End = ev.Start.AddDays(1)
	}
	ev.AllDay = true
	ev.Shared = store.CloneShared(ev.Shared)
	return ev
}

// findBase returns the series master (or the only VEVENT) with uid.
func findBase(cal *ical.Calendar, uid string) *ical.VEvent {
	if uid == "" {
		return nil
	}
	for _, ve := range cal.Events() {
		if ve.Id() == uid && ve.GetProperty(ical.ComponentPropertyRecurrenceId) == nil {
			return ve
		}
	}
	return nil
}

// removeAll drops every VEVENT with uid, overrides included.
func removeAll(cal *ical.Calendar, uid string) {
	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if ve, ok := c.(*ical.VEvent); ok && ve.Id() == uid {
			continue
		}
		kept = append(kept, c)
	}
	cal.Components = kept
}

// excludeOccurrence adds an EXDATE for day to a recurring series and drops
// any override of that occurrence.
func excludeOccurrence(cal *ical.Calendar, base *ical.VEvent, day model.Date) error {
	parsed, err := parseVEvent(base)
	if err != nil {
		return fmt.Errorf("ics: series %s: %w", base.Id(), err)
	}
	if parsed.RawRRule == "" {
		return fmt.Errorf("ics: %s is not recurring: %w", base.Id(), store.ErrNotFound)
	}

	if parsed.AllDay {
		base.AddExdate(fmt.Sprintf("%04d%02d%02d", day.Year, int(day.Month), day.Day),
			ical.WithValue(string(ical.ValueDataTypeDate)))
	} else {
		st := parsed.Start
		occ := time.Date(day.Year, day.Month, day.Day, st.Hour(), st.Minute(), st.Second(), 0, st.Location())
		base.AddExdate(occ.UTC().Format("20060102T150405Z"))
	}

	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if ve, ok := c.(*ical.VEvent); ok && ve.Id() == parsed.UID {
			if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
				if t, err := parseICSTime(rid.Value, propLocation(&rid.BaseProperty)); err == nil && model.DateOf(t.In(parsed.Start.Location())) == day {
					continue
				}
			}
		}
		kept = append(kept, c)
	}
	cal.Components = kept
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
