package notes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"notespace/internal/rbac"
	"notespace/internal/store"
	"notespace/internal/tags"
)

// History returns the note's snapshots from the retention window, newest
// first, with the live note.
func (e *Engine) History(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (HistoryView, error) {
	note, err := e.loadVisible(ctx, actor, noteID, rbac.ActionEdit)
	if err != nil {
		return HistoryView{}, err
	}
	entries, err := e.archive.List(ctx, e.store, noteID)
	if err != nil {
		return HistoryView{}, err
	}
	attached, err := e.store.ListNoteTags(ctx, noteID)
	if err != nil {
		return HistoryView{}, fmt.Errorf("list note tags: %w", err)
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryOf(entry))
	}
	return HistoryView{Current: viewOf(note, attached), History: out}, nil
}

func (e *Engine) HistoryStats(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (HistoryStatsView, error) {
	if _, err := e.loadVisible(ctx, actor, noteID, rbac.ActionEdit); err != nil {
		return HistoryStatsView{}, err
	}
	stats, err := e.archive.Stats(ctx, e.store, noteID)
	if err != nil {
		return HistoryStatsView{}, err
	}
	return HistoryStatsView{
		TotalHistoryEntries: stats.Total,
		OldestEntry:         stats.Oldest,
		NewestEntry:         stats.Newest,
	}, nil
}

// Restore puts a snapshot's fields and tags back onto the note through the
// normal update path, so the state being replaced is itself snapshotted.
// Soft-deleted notes cannot be restored.
func (e *Engine) Restore(ctx context.Context, actor rbac.Actor, noteID, historyID uuid.UUID) (NoteView, error) {
	if _, err := e.loadVisible(ctx, actor, noteID, rbac.ActionEdit); err != nil {
		return NoteView{}, err
	}
	entry, err := e.archive.Get(ctx, e.store, noteID, historyID)
	if err != nil {
		return NoteView{}, err
	}
	names := tags.Names(entry.Tags)
	view, err := e.mutate(ctx, actor, noteID, mutation{
		action: rbac.ActionEdit,
		apply: func(next *store.Note) {
			next.Title = entry.Title
			next.Content = entry.Content
			next.Status = entry.Status
			next.Visibility = entry.Visibility
		},
		tags: &names,
	})
	if err != nil {
		return NoteView{}, err
	}
	e.log.Info().
		Str("note_id", noteID.String()).
		Str("history_id", historyID.String()).
		Str("user_id", actor.UserID.String()).
		Msg("note restored")
	return view, nil
}
