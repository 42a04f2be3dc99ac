package app

import (
	"net/http"

	"github.com/google/uuid"

	"notespace/internal/notes"
)

type castVoteBody struct {
	VoteType string `json:"voteType" validate:"required,oneof=up down"`
}

type bulkVotesBody struct {
	NoteIDs []string `json:"noteIds" validate:"required,min=1,max=30,dive,uuid"`
}

type voteView struct {
	VoteType  *string `json:"voteType"`
	VoteCount int     `json:"voteCount"`
}

func voteViewOf(status notes.VoteStatus) voteView {
	return voteView{VoteType: status.VoteType, VoteCount: status.VoteCount}
}

func (s *HTTPServer) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var body castVoteBody
	if !s.bind(w, r, &body) {
		return
	}
	result, err := s.svc.Votes.Cast(r.Context(), actorFrom(r.Context()), pathID(r, "id"), body.VoteType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if result.Changed {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Vote updated", "vote": voteViewOf(result.Status)})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Vote recorded", "vote": voteViewOf(result.Status)})
}

func (s *HTTPServer) handleRemoveVote(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Votes.Remove(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Vote removed", "vote": voteViewOf(status)})
}

func (s *HTTPServer) handleVoteStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Votes.Status(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleVoteStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Votes.Stats(r.Context(), actorFrom(r.Context()), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleBulkVotes(w http.ResponseWriter, r *http.Request) {
	var body bulkVotesBody
	if !s.bind(w, r, &body) {
		return
	}
	ids := make([]uuid.UUID, 0, len(body.NoteIDs))
	for _, raw := range body.NoteIDs {
		// validated as uuids by bind
		ids = append(ids, uuid.MustParse(raw))
	}
	votes, err := s.svc.Votes.BulkStatus(r.Context(), actorFrom(r.Context()), ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}
