package model

// Assignment is one person/project/role booking over an inclusive span of
// days. It is always derived from a store event and never persisted as is.
type Assignment struct {
	// ID is the backing store event ID.
	ID string

	Person  string
	Project string
	Role    string // may be empty for legacy two-part titles

	// Start and End are both inclusive.
	Start Date
	End   Date

	// Valid reports whether person, project and role still exist in the
	// current Vocabulary (empty fields always pass).
	Valid bool
	// Color is the role colour, or the neutral grey for invalid rows.
	Color string
}

// Days returns every date covered by the assignment, in order.
func (a Assignment) Days() []Date {
	if a.End.Before(a.Start) {
		return []Date{a.Start}
	}
	out := make([]Date, 0, a.Start.DaysUntil(a.End)+1)
	for d := a.Start; !d.After(a.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// FullySpecified reports whether person, project and role are all set.
func (a Assignment) FullySpecified() bool {
	return a.Person != "" && a.Project != "" && a.Role != ""
}

// Role is a named role with its display colour (#rrggbb).
type Role struct {
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// Vocabulary is the closed set of personnel, projects and roles shared by
// every client through the sentinel calendar event.
type Vocabulary struct {
	Personnel []string `json:"personnel"`
	Projects  []string `json:"projects"`
	Roles     []Role   `json:"roles"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (v Vocabulary) Clone() Vocabulary {
	return Vocabulary{
		Personnel: append([]string{}, v.Personnel...),
		Projects:  append([]string{}, v.Projects...),
		Roles:     append([]Role{}, v.Roles...),
	}
}

// RoleNames returns role names in configured order.
func (v Vocabulary) RoleNames() []string {
	out := make([]string, 0, len(v.Roles))
	for _, r := range v.Roles {
		out = append(out, r.Name)
	}
	return out
}

// Filter narrows views to one person and/or one project. Empty fields match
// everything.
type Filter struct {
	Person  string `json:"person,omitempty"`
	Project string `json:"project,omitempty"`
}

// Match reports whether an assignment passes the filter (exact match).
func (f Filter) Match(a Assignment) bool {
	if f.Person != "" && a.Person != f.Person {
		return false
	}
	if f.Project != "" && a.Project != f.Project {
		return false
	}
	return true
}
