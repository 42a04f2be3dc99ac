package app

import (
	"net/http"
	"strings"

	"notespace/internal/notes"
)

type createNoteBody struct {
	Title      string   `json:"title" validate:"required"`
	Content    string   `json:"content" validate:"required"`
	Status     string   `json:"status" validate:"omitempty,oneof=draft published"`
	Visibility string   `json:"visibility" validate:"omitempty,oneof=private public"`
	Tags       []string `json:"tags" validate:"omitempty,max=20"`
}

type updateNoteBody struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Status     *string   `json:"status" validate:"omitempty,oneof=draft published"`
	Visibility *string   `json:"visibility" validate:"omitempty,oneof=private public"`
	Tags       *[]string `json:"tags" validate:"omitempty,max=20"`
}

type autosaveBody struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// pageRequest reads page and perPage from the query string.
func pageRequest(r *http.Request) (notes.PageRequest, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return notes.PageRequest{}, err
	}
	perPage, err := queryInt(r, "perPage")
	if err != nil {
		return notes.PageRequest{}, err
	}
	return notes.PageRequest{Page: page, PerPage: perPage}, nil
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Notes.Dashboard(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleListWorkspaceNotes(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.svc.Notes.ListWorkspace(r.Context(), actorFrom(r.Context()), pathID(r, "workspaceId"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var body createNoteBody
	if !s.bind(w, r, &body) {
		return
	}
	note, err := s.svc.Notes.Create(r.Context(), actorFrom(r.Context()), pathID(r, "workspaceId"), notes.CreateInput{
		Title:      body.Title,
		Content:    body.Content,
		Status:     body.Status,
		Visibility: body.Visibility,
		Tags:       body.Tags,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"note": note})
}

func (s *HTTPServer) handleMyNotes(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	result, err := s.svc.Notes.ListMine(r.Context(), actorFrom(r.Context()), notes.MineQuery{
		PageRequest: page,
		Status:      strings.TrimSpace(query.Get("status")),
		Search:      strings.TrimSpace(query.Get("search")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleShowNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.svc.Notes.Get(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (s *HTTPServer) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var body updateNoteBody
	if !s.bind(w, r, &body) {
		return
	}
	note, err := s.svc.Notes.Update(r.Context(), actorFrom(r.Context()), pathID(r, "id"), notes.Patch{
		Title:      body.Title,
		Content:    body.Content,
		Status:     body.Status,
		Visibility: body.Visibility,
		Tags:       body.Tags,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (s *HTTPServer) handleDestroyNote(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Notes.Destroy(r.Context(), actorFrom(r.Context()), pathID(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Note deleted"})
}

func (s *HTTPServer) handleAutosave(w http.ResponseWriter, r *http.Request) {
	var body autosaveBody
	if !s.bind(w, r, &body) {
		return
	}
	savedAt, err := s.svc.Notes.Autosave(r.Context(), actorFrom(r.Context()), pathID(r, "id"), notes.AutosaveInput{
		Title:   body.Title,
		Content: body.Content,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Auto-saved",
		"lastAutosaveAt": savedAt,
	})
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	note, err := s.svc.Notes.Publish(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Note published", "note": note})
}

func (s *HTTPServer) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	note, err := s.svc.Notes.Unpublish(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Note unpublished", "note": note})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Notes.History(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Notes.HistoryStats(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	note, err := s.svc.Notes.Restore(r.Context(), actorFrom(r.Context()), pathID(r, "id"), pathID(r, "historyId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Note restored", "note": note})
}

func (s *HTTPServer) handlePublicNotes(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := r.URL.Query()
	result, err := s.svc.Notes.ListPublic(r.Context(), actorFrom(r.Context()), notes.PublicQuery{
		PageRequest: page,
		Search:      strings.TrimSpace(query.Get("search")),
		Sort:        strings.TrimSpace(query.Get("sort")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePublicNote(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Notes.GetPublic(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	found, err := s.svc.Notes.Search(r.Context(), actorFrom(r.Context()), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": found})
}
