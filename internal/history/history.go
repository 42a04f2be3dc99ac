// Package history captures pre-change snapshots of notes and serves the
// recent ones back. Snapshots older than Window are never returned and are
// removed by the Sweeper.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notespace/internal/apperr"
	"notespace/internal/store"
)

const (
	Window = 7 * 24 * time.Hour

	CodeHistoryNotFound = "HISTORY_NOT_FOUND"
)

type Queries interface {
	ListNoteTags(ctx context.Context, noteID uuid.UUID) ([]store.Tag, error)
	InsertHistory(ctx context.Context, entry store.NoteHistory) error
	GetHistory(ctx context.Context, noteID, historyID uuid.UUID) (store.NoteHistory, error)
	ListHistory(ctx context.Context, noteID uuid.UUID, since time.Time) ([]store.NoteHistory, error)
	HistoryStats(ctx context.Context, noteID uuid.UUID, since time.Time) (store.HistoryStats, error)
}

type Archive struct {
	now func() time.Time
}

func NewArchive(now func() time.Time) *Archive {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Archive{now: now}
}

// Cutoff is the oldest creation time still inside the window.
func (a *Archive) Cutoff() time.Time {
	return a.now().Add(-Window)
}

// TrackedFieldsChanged reports whether any field that history tracks differs.
func TrackedFieldsChanged(before, after store.Note) bool {
	return before.Title != after.Title ||
		!sameContent(before.Content, after.Content) ||
		before.Status != after.Status ||
		before.Visibility != after.Visibility
}

func sameContent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Capture records note as it is now, with its current tags, attributed to
// editorID. It must run inside the transaction that applies the change.
func (a *Archive) Capture(ctx context.Context, q Queries, note store.Note, editorID uuid.UUID) (store.NoteHistory, error) {
	current, err := q.ListNoteTags(ctx, note.ID)
	if err != nil {
		return store.NoteHistory{}, fmt.Errorf("snapshot tags: %w", err)
	}
	entry := store.NoteHistory{
		ID:         uuid.New(),
		NoteID:     note.ID,
		UserID:     editorID,
		Title:      note.Title,
		Content:    note.Content,
		Status:     note.Status,
		Visibility: note.Visibility,
		Tags:       current,
		CreatedAt:  a.now(),
	}
	if err := q.InsertHistory(ctx, entry); err != nil {
		return store.NoteHistory{}, fmt.Errorf("capture history: %w", err)
	}
	return entry, nil
}

// List returns the note's snapshots inside the window, newest first.
func (a *Archive) List(ctx context.Context, q Queries, noteID uuid.UUID) ([]store.NoteHistory, error) {
	items, err := q.ListHistory(ctx, noteID, a.Cutoff())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return items, nil
}

// Get returns one snapshot of the note. Snapshots outside the window are
// reported as not found, matching List.
func (a *Archive) Get(ctx context.Context, q Queries, noteID, historyID uuid.UUID) (store.NoteHistory, error) {
	entry, err := q.GetHistory(ctx, noteID, historyID)
	if errors.Is(err, store.ErrNotFound) {
		return store.NoteHistory{}, apperr.NotFound(CodeHistoryNotFound, "history entry not found")
	}
	if err != nil {
		return store.NoteHistory{}, fmt.Errorf("get history: %w", err)
	}
	if entry.CreatedAt.Before(a.Cutoff()) {
		return store.NoteHistory{}, apperr.NotFound(CodeHistoryNotFound, "history entry not found")
	}
	return entry, nil
}

func (a *Archive) Stats(ctx context.Context, q Queries, noteID uuid.UUID) (store.HistoryStats, error) {
	stats, err := q.HistoryStats(ctx, noteID, a.Cutoff())
	if err != nil {
		return store.HistoryStats{}, fmt.Errorf("history stats: %w", err)
	}
	return stats, nil
}
