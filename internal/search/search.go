// Package search keeps an optional Meilisearch index of public published
// notes and falls back to PostgreSQL full-text search when it is unavailable.
// Hits are note ids only; callers re-read the notes through the store.
package search

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when no backend can answer a query.
var ErrUnavailable = errors.New("search unavailable")

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	WorkspaceID string   `json:"workspaceId"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags"`
	VoteCount   int      `json:"voteCount"`
	CreatedAt   int64    `json:"createdAt"`
}

// Backend can execute a title search within one tenant.
type Backend interface {
	Search(ctx context.Context, tenantID uuid.UUID, text string, limit int) ([]uuid.UUID, error)
	Healthy() bool
}

func parseIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(value)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
