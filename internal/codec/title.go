// Package codec maps calendar event titles to (person, project, role)
// triples and converts inclusive assignment spans to the store's exclusive
// end dates.
package codec

import (
	"regexp"
	"strings"
)

// Triple is the structured content of an assignment title.
type Triple struct {
	Person  string `json:"person"`
	Project string `json:"project"`
	Role    string `json:"role"`
}

var (
	// Left segments are minimal so that hyphens inside the last segment stay
	// part of it.
	withRole    = regexp.MustCompile(`^(.+?)\s*-\s*(.+?)\s*-\s*(.+)$`)
	withoutRole = regexp.MustCompile(`^(.+?)\s*-\s*(.+)$`)
)

// Decode parses "Person - Project - Role", falling back to the legacy
// "Person - Project" form and finally to a bare project title. It never
// fails.
func Decode(title string) Triple {
	if m := withRole.FindStringSubmatch(title); m != nil {
		return Triple{
			Person:  strings.TrimSpace(m[1]),
			Project: strings.TrimSpace(m[2]),
			Role:    strings.TrimSpace(m[3]),
		}
	}
	if m := withoutRole.FindStringSubmatch(title); m != nil {
		return Triple{
			Person:  strings.TrimSpace(m[1]),
			Project: strings.TrimSpace(m[2]),
		}
	}
	return Triple{Project: title}
}

// Encode renders a triple as a title. A triple with only a project encodes
// to the bare project so that Decode(Encode(x)) == x holds for it too.
func Encode(t Triple) string {
	switch {
	case t.Role != "":
		return t.Person + " - " + t.Project + " - " + t.Role
	case t.Person == "":
		return t.Project
	default:
		return t.Person + " - " + t.Project
	}
}
