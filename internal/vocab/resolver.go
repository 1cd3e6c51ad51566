package vocab

import (
	"slices"
	"strings"

	"crewcal/internal/codec"
	"crewcal/internal/model"
)

// Resolver answers validity and colour questions against one vocabulary
// snapshot.
type Resolver struct {
	v model.Vocabulary
}

func NewResolver(v model.Vocabulary) Resolver {
	return Resolver{v: v}
}

// IsValid reports whether each non-blank field names an existing entry.
// Blank fields pass so that legacy titles without a role stay valid.
func (r Resolver) IsValid(person, project, role string) bool {
	personOK := blank(person) || slices.Contains(r.v.Personnel, person)
	projectOK := blank(project) || slices.Contains(r.v.Projects, project)
	roleOK := blank(role) || roleIndex(r.v, role) >= 0
	return personOK && projectOK && roleOK
}

// ColorOf returns the configured colour of role, or NeutralColor.
func (r Resolver) ColorOf(role string) string {
	if blank(role) {
		return NeutralColor
	}
	i := roleIndex(r.v, role)
	if i < 0 || r.v.Roles[i].Color == "" {
		return NeutralColor
	}
	return r.v.Roles[i].Color
}

// Resolve returns validity and the display colour (grey when invalid).
func (r Resolver) Resolve(t codec.Triple) (bool, string) {
	if !r.IsValid(t.Person, t.Project, t.Role) {
		return false, NeutralColor
	}
	return true, r.ColorOf(t.Role)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
