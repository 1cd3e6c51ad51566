package ics

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "crewcal/internal/log"
)

// sharedProperty carries one shared-metadata entry per property as
// "key=base64url(value)", so arbitrary JSON survives iCalendar escaping.
const sharedProperty = ical.ComponentProperty("X-CREWCAL-SHARED")

// ParsedEvent is the normalized form of one VEVENT. Recurrence expansion
// (expand.go) operates on this type.
type ParsedEvent struct {
	UID string
	Seq int

	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overridden instances
	IsOverride bool

	Shared map[string]string
}

// parseCalendar decodes an ICS payload. An empty payload is an empty
// calendar, which is how a fresh calendar file starts out.
func parseCalendar(body []byte) (*ical.Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return newCalendar(), nil
	}
	cal, err := ical.ParseCalendarWithOptions(bytes.NewReader(body),
		ical.WithUnknownPropertyHandler(ical.AcceptUnknownPropertyHandler))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}
	return cal, nil
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendarFor("crewcal")
	cal.SetMethod(ical.MethodPublish)
	return cal
}

// ParseICS parses a payload into events, skipping (and logging) VEVENTs that
// cannot be read.
func ParseICS(label string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}
	cal, err := parseCalendar(body)
	if err != nil {
		appLog.Error("ics parse failed", err, "source", label)
		return nil, err
	}
	return parseEvents(label, cal), nil
}

func parseEvents(label string, cal *ical.Calendar) []ParsedEvent {
	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "source", label, "err", err.Error())
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parse completed", "source", label, "event_count", len(events))
	return events
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start = start

	// A missing DTEND means one day for dates and zero length for times.
	out.End = start
	if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	}
	if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			return out, fmt.Errorf("%s: DTEND: %w", out.UID, err)
		}
		out.End = end
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, propLocation(&p.BaseProperty)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value, propLocation(&rid.BaseProperty)); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	out.Shared = decodeShared(ve)
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propLocation honours a TZID parameter; floating values are local time.
func propLocation(p *ical.BaseProperty) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) == 1 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return time.Local
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func decodeShared(ve *ical.VEvent) map[string]string {
	props := ve.GetProperties(sharedProperty)
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for _, p := range props {
		key, enc, ok := strings.Cut(p.Value, "=")
		if !ok || key == "" {
			continue
		}
		val, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil {
			appLog.Warn("ics: bad shared property", "key", key, "err", err.Error())
			continue
		}
		out[key] = string(val)
	}
	return out
}

func encodeShared(ve *ical.VEvent, shared map[string]string) {
	ve.RemoveProperty(sharedProperty)
	for _, key := range sortedKeys(shared) {
		ve.AddProperty(sharedProperty, key+"="+base64.RawURLEncoding.EncodeToString([]byte(shared[key])))
	}
}
