package web

import (
	"fmt"
	"net/http"

	"crewcal/internal/calsync"
	appLog "crewcal/internal/log"
	"crewcal/internal/model"
	"crewcal/internal/overview"
)

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Session      calsync.Status        `json:"session"`
	Backend      string                `json:"backend"`
	SignInNeeded bool                  `json:"sign_in_needed"`
	Filters      calsync.FilterOptions `json:"filters"`
	Vocabulary   model.Vocabulary      `json:"vocabulary"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.ctrl.Status()
	resp := statusResponse{
		Session:      st,
		SignInNeeded: st.State == calsync.SignedOut && s.auth != nil,
		Filters:      s.ctrl.FilterOptions(),
		Vocabulary:   s.ctrl.Vocabulary(),
	}
	if s.cfg != nil {
		resp.Backend = s.cfg.Backend
	}
	writeJSON(w, http.StatusOK, resp)
}

func filterFrom(r *http.Request) model.Filter {
	q := r.URL.Query()
	return model.Filter{Person: q.Get("person"), Project: q.Get("project")}
}

// handleEvents returns the calendar widget events.
//
// GET /api/events?person=&project=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.CalendarEvents(filterFrom(r)))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.LoadEvents(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.ctrl.LoadVocabulary(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req calsync.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.ctrl.CreateAssignment(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// spanRequest moves an assignment. End is inclusive.
type spanRequest struct {
	Start model.Date `json:"start"`
	End   model.Date `json:"end"`
}

func (s *Server) handleUpdateAssignment(w http.ResponseWriter, r *http.Request) {
	var req spanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.ctrl.UpdateAssignment(r.Context(), r.PathValue("id"), req.Start, req.End)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.DeleteAssignment(r.Context(), r.PathValue("id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) overviewFor(r *http.Request) overview.Grid {
	year := parseIntDefault(r.URL.Query().Get("year"), 0)
	if year < 1900 || year > 9999 {
		year = 0
	}
	return s.ctrl.Overview(year, filterFrom(r))
}

func (s *Server) handleOverviewJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overviewFor(r))
}

func (s *Server) handleOverviewXLSX(w http.ResponseWriter, r *http.Request) {
	g := s.overviewFor(r)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="overview-%d-%d.xlsx"`, g.FirstYear, g.LastYear))
	if err := overview.WriteXLSX(g, w); err != nil {
		// Headers are gone by now; the client sees a truncated file.
		appLog.Error("overview export failed", err)
	}
}

type nameRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type colorRequest struct {
	Color string `json:"color"`
}

// vocabResult answers a vocabulary command with the new vocabulary.
func (s *Server) vocabResult(w http.ResponseWriter, status int, err error) {
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, status, s.ctrl.Vocabulary())
}

func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.vocabResult(w, http.StatusCreated, s.ctrl.AddPerson(r.Context(), req.Name))
}

func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	s.vocabResult(w, http.StatusOK, s.ctrl.RemovePerson(r.Context(), r.PathValue("name")))
}

func (s *Server) handleAddProject(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.vocabResult(w, http.StatusCreated, s.ctrl.AddProject(r.Context(), req.Name))
}

func (s *Server) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	s.vocabResult(w, http.StatusOK, s.ctrl.RemoveProject(r.Context(), r.PathValue("name")))
}

func (s *Server) handleAddRole(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.vocabResult(w, http.StatusCreated, s.ctrl.AddRole(r.Context(), req.Name, req.Color))
}

func (s *Server) handleSetRoleColor(w http.ResponseWriter, r *http.Request) {
	var req colorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.vocabResult(w, http.StatusOK, s.ctrl.SetRoleColor(r.Context(), r.PathValue("name"), req.Color))
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	s.vocabResult(w, http.StatusOK, s.ctrl.RemoveRole(r.Context(), r.PathValue("name")))
}
