// Package overview builds the two-year project/person/role day grid and its
// schedule-conflict markup. Build is a pure function of its input; callers
// rebuild the grid on every change.
package overview

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"crewcal/internal/model"
	"crewcal/internal/vocab"
)

// Placeholder is the project value used for not-yet-assigned bookings. Such
// bookings never appear in the grid.
const Placeholder = "Unassigned"

// Bar classifies a covered day cell by its neighbours.
type Bar string

const (
	BarNone   Bar = ""
	BarStart  Bar = "start"
	BarMiddle Bar = "middle"
	BarEnd    Bar = "end"
	BarSingle Bar = "single"
)

type Input struct {
	Assignments []model.Assignment
	Vocabulary  model.Vocabulary
	Filter      model.Filter
	// Year is the first of the two displayed years.
	Year  int
	Today model.Date
}

type Day struct {
	Date     model.Date `json:"date"`
	Day      int        `json:"day"`
	Name     string     `json:"name"`
	Week     int        `json:"week"`
	Weekend  bool       `json:"weekend"`
	Today    bool       `json:"today"`
	Conflict bool       `json:"conflict"`
}

// Band is a header cell spanning Span day columns starting at column Start.
type Band struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	Span  int    `json:"span"`
}

// Run is a contiguous span of covered days (inclusive).
type Run struct {
	Start model.Date `json:"start"`
	End   model.Date `json:"end"`
}

type Row struct {
	Person string `json:"person"`
	Role   string `json:"role"`
	Color  string `json:"color"`
	// Conflict is set when the person is double-booked on any day of this row.
	Conflict bool         `json:"conflict"`
	Dates    []model.Date `json:"dates"`
	Cells    []Bar        `json:"cells"`
	Runs     []Run        `json:"runs"`
}

type Project struct {
	Name string `json:"name"`
	Rows []Row  `json:"rows"`
}

type Grid struct {
	FirstYear int       `json:"firstYear"`
	LastYear  int       `json:"lastYear"`
	Days      []Day     `json:"days"`
	Months    []Band    `json:"months"`
	Weeks     []Band    `json:"weeks"`
	Projects  []Project `json:"projects"`
	// Conflicts lists, per person, the sorted dates on which that person is
	// covered by more than one assignment.
	Conflicts map[string][]model.Date `json:"conflicts"`
	// ConflictDates is the union of Conflicts.
	ConflictDates []model.Date `json:"conflictDates"`
}

type group struct {
	person, role string
	dates        map[model.Date]struct{}
}

// Build derives the grid from in. It never mutates in.
func Build(in Input) Grid {
	resolver := vocab.NewResolver(in.Vocabulary)

	// project -> groups in first-seen order
	groups := map[string][]*group{}
	// date -> person -> covering assignments
	counts := map[model.Date]map[string]int{}

	for _, a := range in.Assignments {
		if !in.Filter.Match(a) || !participates(a) {
			continue
		}
		g := findGroup(groups, a)
		for _, d := range a.Days() {
			g.dates[d] = struct{}{}
			if counts[d] == nil {
				counts[d] = map[string]int{}
			}
			counts[d][a.Person]++
		}
	}

	grid := Grid{
		FirstYear: in.Year,
		LastYear:  in.Year + 1,
		Conflicts: map[string][]model.Date{},
	}

	union := map[model.Date]bool{}
	for d, byPerson := range counts {
		for person, n := range byPerson {
			if n > 1 {
				grid.Conflicts[person] = append(grid.Conflicts[person], d)
				union[d] = true
			}
		}
	}
	for person := range grid.Conflicts {
		sortDates(grid.Conflicts[person])
	}
	for d := range union {
		grid.ConflictDates = append(grid.ConflictDates, d)
	}
	sortDates(grid.ConflictDates)

	grid.Days = buildDays(in.Year, in.Today, union)
	grid.Months, grid.Weeks = buildBands(grid.Days)

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		gs := groups[name]
		sortGroups(gs, in.Vocabulary)
		p := Project{Name: name, Rows: make([]Row, 0, len(gs))}
		for _, g := range gs {
			p.Rows = append(p.Rows, buildRow(g, grid.Days, counts, resolver.ColorOf(g.role)))
		}
		grid.Projects = append(grid.Projects, p)
	}
	return grid
}

// participates reports whether a is fully specified and not a placeholder.
func participates(a model.Assignment) bool {
	if strings.TrimSpace(a.Person) == "" || strings.TrimSpace(a.Role) == "" {
		return false
	}
	p := strings.TrimSpace(a.Project)
	return p != "" && p != Placeholder
}

func findGroup(groups map[string][]*group, a model.Assignment) *group {
	for _, g := range groups[a.Project] {
		if g.person == a.Person && g.role == a.Role {
			return g
		}
	}
	g := &group{person: a.Person, role: a.Role, dates: map[model.Date]struct{}{}}
	groups[a.Project] = append(groups[a.Project], g)
	return g
}

// sortGroups orders rows by role position, then personnel position, with
// names missing from the vocabulary last.
func sortGroups(gs []*group, v model.Vocabulary) {
	roleAt := indexOf(v.RoleNames())
	personAt := indexOf(v.Personnel)
	sort.SliceStable(gs, func(i, j int) bool {
		ri, rj := rank(roleAt, gs[i].role), rank(roleAt, gs[j].role)
		if ri != rj {
			return ri < rj
		}
		return rank(personAt, gs[i].person) < rank(personAt, gs[j].person)
	})
}

func indexOf(names []string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := m[n]; !dup {
			m[n] = i
		}
	}
	return m
}

func rank(m map[string]int, name string) int {
	if i, ok := m[name]; ok {
		return i
	}
	return len(m)
}

func buildDays(year int, today model.Date, conflicted map[model.Date]bool) []Day {
	first := model.NewDate(year, time.January, 1)
	last := model.NewDate(year+1, time.December, 31)

	days := make([]Day, 0, first.DaysUntil(last)+1)
	for d := first; !d.After(last); d = d.AddDays(1) {
		days = append(days, Day{
			Date:     d,
			Day:      d.Day,
			Name:     dayName(d),
			Week:     ISOWeek(d),
			Weekend:  isWeekend(d),
			Today:    d == today,
			Conflict: conflicted[d],
		})
	}
	return days
}

// buildBands groups day columns into month bands and week bands. A week
// band is keyed by calendar year and week number, so a week crossing New
// Year is split in two.
func buildBands(days []Day) (months, weeks []Band) {
	for i, d := range days {
		if i == 0 || d.Date.Month != days[i-1].Date.Month || d.Date.Year != days[i-1].Date.Year {
			months = append(months, Band{
				Label: fmt.Sprintf("%s %d", d.Date.Month.String()[:3], d.Date.Year),
				Start: i,
			})
		}
		months[len(months)-1].Span++

		if i == 0 || d.Week != days[i-1].Week || d.Date.Year != days[i-1].Date.Year {
			weeks = append(weeks, Band{Label: fmt.Sprintf("KW%d", d.Week), Start: i})
		}
		weeks[len(weeks)-1].Span++
	}
	return months, weeks
}

func buildRow(g *group, days []Day, counts map[model.Date]map[string]int, color string) Row {
	row := Row{Person: g.person, Role: g.role, Color: color}

	for d := range g.dates {
		row.Dates = append(row.Dates, d)
		if counts[d][g.person] > 1 {
			row.Conflict = true
		}
	}
	sortDates(row.Dates)

	row.Cells = make([]Bar, len(days))
	for i, day := range days {
		if _, ok := g.dates[day.Date]; !ok {
			continue
		}
		_, prev := g.dates[day.Date.AddDays(-1)]
		_, next := g.dates[day.Date.AddDays(1)]
		switch {
		case prev && next:
			row.Cells[i] = BarMiddle
		case prev:
			row.Cells[i] = BarEnd
		case next:
			row.Cells[i] = BarStart
		default:
			row.Cells[i] = BarSingle
		}
	}

	for _, d := range row.Dates {
		n := len(row.Runs)
		if n > 0 && row.Runs[n-1].End.AddDays(1) == d {
			row.Runs[n-1].End = d
			continue
		}
		row.Runs = append(row.Runs, Run{Start: d, End: d})
	}
	return row
}

func sortDates(ds []model.Date) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Before(ds[j]) })
}
