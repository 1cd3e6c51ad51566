package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"slices"
	"strings"

	"crewcal/internal/calsync"
	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/overview"
)

//go:embed templates/*.html
var templateFS embed.FS

var overviewTmpl = template.Must(template.ParseFS(templateFS, "templates/overview.html"))

type overviewPage struct {
	Grid      overview.Grid
	Filter    model.Filter
	Options   calsync.FilterOptions
	Prev      int
	Next      int
	Days      []pageDay
	Rows      []pageRow
	Conflicts []conflictLine
}

type pageDay struct {
	Name  string
	Day   int
	Class string
}

type pageRow struct {
	Project string
	// ProjectSpan is the rowspan of the project cell on the first row of a
	// project and zero on the others.
	ProjectSpan int
	Person      string
	Role        string
	Conflict    bool
	Cells       []pageCell
}

type pageCell struct {
	Class string
	Color string
}

type conflictLine struct {
	Person string
	Dates  string
}

func (s *Server) handleOverviewPage(w http.ResponseWriter, r *http.Request) {
	g := s.overviewFor(r)
	page := buildPage(g, filterFrom(r), s.ctrl.FilterOptions())

	var buf bytes.Buffer
	if err := overviewTmpl.Execute(&buf, page); err != nil {
		appLog.Error("overview template failed", err)
		http.Error(w, "failed to render overview", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func buildPage(g overview.Grid, f model.Filter, opts calsync.FilterOptions) overviewPage {
	page := overviewPage{
		Grid:    g,
		Filter:  f,
		Options: opts,
		Prev:    g.FirstYear - 1,
		Next:    g.FirstYear + 1,
	}

	for _, d := range g.Days {
		page.Days = append(page.Days, pageDay{Name: d.Name, Day: d.Day, Class: dayClass(d)})
	}

	for _, p := range g.Projects {
		for i, row := range p.Rows {
			conflicted := make(map[model.Date]bool)
			for _, d := range g.Conflicts[row.Person] {
				conflicted[d] = true
			}

			pr := pageRow{
				Project:  p.Name,
				Person:   row.Person,
				Role:     row.Role,
				Conflict: row.Conflict,
				Cells:    make([]pageCell, len(row.Cells)),
			}
			if i == 0 {
				pr.ProjectSpan = len(p.Rows)
			}
			for j, bar := range row.Cells {
				day := g.Days[j]
				classes := []string{dayClass(day)}
				cell := pageCell{}
				if bar != overview.BarNone {
					classes = append(classes, "bar", string(bar))
					cell.Color = row.Color
					if conflicted[day.Date] {
						classes = append(classes, "clash")
					}
				}
				cell.Class = strings.TrimSpace(strings.Join(classes, " "))
				pr.Cells[j] = cell
			}
			page.Rows = append(page.Rows, pr)
		}
	}

	for _, person := range sortedPersons(g.Conflicts) {
		dates := make([]string, 0, len(g.Conflicts[person]))
		for _, d := range g.Conflicts[person] {
			dates = append(dates, d.String())
		}
		page.Conflicts = append(page.Conflicts, conflictLine{Person: person, Dates: strings.Join(dates, ", ")})
	}
	return page
}

func dayClass(d overview.Day) string {
	var c []string
	if d.Weekend {
		c = append(c, "weekend")
	}
	if d.Today {
		c = append(c, "today")
	}
	if d.Conflict {
		c = append(c, "conflict")
	}
	return strings.Join(c, " ")
}

func sortedPersons(m map[string][]model.Date) []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
