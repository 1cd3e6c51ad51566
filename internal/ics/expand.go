package ics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/store"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location maps timed occurrences to local dates. Nil means time.Local.
	Location *time.Location

	// From and To bound the inclusive date window.
	From model.Date
	To   model.Date

	// MaxOccurrencesPerEvent caps runaway rules; zero means the default.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into single store events inside the window.
// Recurring events yield one event per occurrence, identified by
// InstanceID; RECURRENCE-ID overrides replace the matching occurrence and
// EXDATEs remove it.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]store.Event, error) {
	if cfg.To.Before(cfg.From) {
		return nil, errors.New("ics: expand window ends before it starts")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	for _, ev := range events {
		if ev.IsOverride {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, dup := bases[ev.UID]; !dup {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = ev
	}

	out := make([]store.Event, 0, len(bases))
	for _, uid := range order {
		ev := bases[uid]
		if ev.RawRRule == "" {
			se := toStoreEvent(ev, ev.Start, ev.End, ev.UID, cfg.Location)
			if se.Covers(cfg.From, cfg.To) {
				out = append(out, se)
			}
			continue
		}

		occ, truncated := expandRecurring(ev, overrides[uid], cfg)
		if truncated {
			appLog.Error("ics expand: occurrences truncated",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		out = append(out, occ...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]store.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)

	// All-day EXDATEs are compared by date; timed ones by instant.
	excluded := make(map[model.Date]bool)
	for _, ex := range ev.ExDates {
		if ev.AllDay {
			excluded[model.DateOf(ex)] = true
		} else {
			set.ExDate(ex)
		}
	}

	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	// Widen by the duration so occurrences starting before the window but
	// still running into it are kept.
	rangeStart := cfg.From.In(loc).Add(-dur)
	rangeEnd := cfg.To.AddDays(1).In(loc)

	starts := set.Between(rangeStart, rangeEnd, true)
	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	out := make([]store.Event, 0, len(starts))
	for _, occStart := range starts {
		day := model.DateOf(occStart.In(loc))
		if excluded[day] {
			continue
		}
		id := InstanceID(ev.UID, day)

		base, start, end := ev, occStart, occStart.Add(dur)
		if o, ok := findOverride(overrides, occStart, ev.AllDay); ok {
			base, start, end = o, o.Start, o.End
		}

		se := toStoreEvent(base, start, end, id, cfg.Location)
		if se.Covers(cfg.From, cfg.To) {
			out = append(out, se)
		}
	}
	return out, truncated
}

// findOverride matches RECURRENCE-ID by instant, or by date for all-day
// series.
func findOverride(overrides []ParsedEvent, occStart time.Time, allDay bool) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if allDay {
			if model.DateOf(*ov.Recurrence) == model.DateOf(occStart) {
				return ov, true
			}
			continue
		}
		if ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toStoreEvent(ev ParsedEvent, start, end time.Time, id string, loc *time.Location) store.Event {
	out := store.Event{
		ID:      id,
		Summary: ev.Summary,
		AllDay:  ev.AllDay,
		Shared:  store.CloneShared(ev.Shared),
	}
	if ev.AllDay {
		// DATE values carry no zone; read them as written.
		out.Start, out.End = model.DateOf(start), model.DateOf(end)
	} else {
		out.Start = model.DateOf(start.In(loc))
		out.End = model.DateOf(end.Add(-time.Nanosecond).In(loc)).AddDays(1)
	}
	if !out.End.After(out.Start) {
		out.End = out.Start.AddDays(1)
	}
	return out
}

// InstanceID names one occurrence of a recurring event.
func InstanceID(uid string, day model.Date) string {
	return fmt.Sprintf("%s_%04d%02d%02d", uid, day.Year, int(day.Month), day.Day)
}

// splitInstanceID is the inverse of InstanceID.
func splitInstanceID(id string) (uid string, day model.Date, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || len(id)-i-1 != 8 {
		return "", model.Date{}, false
	}
	t, err := time.Parse("20060102", id[i+1:])
	if err != nil {
		return "", model.Date{}, false
	}
	return id[:i], model.DateOf(t), true
}
