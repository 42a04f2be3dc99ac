package app

import (
	"net/http"
	"strings"

	"notespace/internal/notes"
)

type createWorkspaceBody struct {
	Name string `json:"name" validate:"required,max=255"`
}

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.svc.Workspaces.List(r.Context(), actorFrom(r.Context()), notes.WorkspaceQuery{
		PageRequest: page,
		Search:      strings.TrimSpace(r.URL.Query().Get("search")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body createWorkspaceBody
	if !s.bind(w, r, &body) {
		return
	}
	workspace, err := s.svc.Workspaces.Create(r.Context(), actorFrom(r.Context()), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workspace": workspace})
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.svc.Workspaces.Get(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspace": workspace})
}
