package notes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"notespace/internal/apperr"
	"notespace/internal/rbac"
	"notespace/internal/store"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 20

	DashboardRecent = 5

	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

// PageRequest asks for one page of a listing. Zero values select the first
// page and the default page size.
type PageRequest struct {
	Page    int
	PerPage int
}

func (p PageRequest) resolve(maxPerPage int) (PageRequest, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PerPage == 0 {
		p.PerPage = DefaultPerPage
	}
	details := map[string]string{}
	if p.Page < 1 {
		details["page"] = "must be at least 1"
	}
	if p.PerPage < 1 || p.PerPage > maxPerPage {
		details["perPage"] = fmt.Sprintf("must be between 1 and %d", maxPerPage)
	} else if p.Page > math.MaxInt/p.PerPage {
		// the row offset must stay representable
		details["page"] = "is too large"
	}
	if len(details) > 0 {
		return p, apperr.Validation("invalid pagination", details)
	}
	return p, nil
}

func (p PageRequest) offset() int {
	return (p.Page - 1) * p.PerPage
}

func metaOf(p PageRequest, total int) Meta {
	last := (total + p.PerPage - 1) / p.PerPage
	if last < 1 {
		last = 1
	}
	return Meta{Total: total, PerPage: p.PerPage, CurrentPage: p.Page, LastPage: last}
}

type MineQuery struct {
	PageRequest
	Status string
	Search string
}

type PublicQuery struct {
	PageRequest
	Search string
	Sort   string
}

// hydrate attaches tags to a page of notes.
func (e *Engine) hydrate(ctx context.Context, items []store.Note) ([]NoteView, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, note := range items {
		ids = append(ids, note.ID)
	}
	byNote, err := e.store.ListTagsForNotes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list tags for notes: %w", err)
	}
	views := make([]NoteView, 0, len(items))
	for _, note := range items {
		views = append(views, viewOf(note, byNote[note.ID]))
	}
	return views, nil
}

func (e *Engine) listPage(ctx context.Context, filter store.NoteFilter, page PageRequest) (NotePage, error) {
	filter.Limit = page.PerPage
	filter.Offset = page.offset()
	items, total, err := e.store.ListNotes(ctx, filter)
	if err != nil {
		return NotePage{}, fmt.Errorf("list notes: %w", err)
	}
	views, err := e.hydrate(ctx, items)
	if err != nil {
		return NotePage{}, err
	}
	return NotePage{Notes: views, Meta: metaOf(page, total)}, nil
}

// ListWorkspace lists the notes of a workspace that the actor may see, most
// recently updated first.
func (e *Engine) ListWorkspace(ctx context.Context, actor rbac.Actor, workspaceID uuid.UUID, req PageRequest) (NotePage, error) {
	page, err := req.resolve(MaxPerPage)
	if err != nil {
		return NotePage{}, err
	}
	if _, err := e.store.GetWorkspace(ctx, actor.TenantID, workspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotePage{}, apperr.NotFound(CodeWorkspaceNotFound, "workspace not found")
		}
		return NotePage{}, fmt.Errorf("load workspace: %w", err)
	}
	return e.listPage(ctx, store.NoteFilter{
		TenantID:    actor.TenantID,
		ViewerID:    actor.UserID,
		WorkspaceID: workspaceID,
		Sort:        store.SortUpdated,
	}, page)
}

// ListMine lists the actor's own notes.
func (e *Engine) ListMine(ctx context.Context, actor rbac.Actor, query MineQuery) (NotePage, error) {
	page, err := query.resolve(MaxPerPage)
	if err != nil {
		return NotePage{}, err
	}
	if query.Status != "" && query.Status != store.StatusDraft && query.Status != store.StatusPublished {
		return NotePage{}, apperr.Validation("invalid filter", map[string]string{
			"status": "must be one of draft, published",
		})
	}
	return e.listPage(ctx, store.NoteFilter{
		TenantID: actor.TenantID,
		AuthorID: actor.UserID,
		Status:   query.Status,
		Search:   strings.TrimSpace(query.Search),
		Sort:     store.SortUpdated,
	}, page)
}

func validSort(sort string) bool {
	switch sort {
	case store.SortNewest, store.SortOldest, store.SortMostUpvoted, store.SortMostDownvoted:
		return true
	}
	return false
}

// ListPublic is the tenant's public directory: public published notes with
// the actor's vote on each.
func (e *Engine) ListPublic(ctx context.Context, actor rbac.Actor, query PublicQuery) (PublicPage, error) {
	page, err := query.resolve(MaxPerPage)
	if err != nil {
		return PublicPage{}, err
	}
	if query.Sort == "" {
		query.Sort = store.SortNewest
	}
	if !validSort(query.Sort) {
		return PublicPage{}, apperr.Validation("invalid filter", map[string]string{
			"sort": "must be one of newest, oldest, most_upvoted, most_downvoted",
		})
	}

	result, err := e.listPage(ctx, store.NoteFilter{
		TenantID:   actor.TenantID,
		Status:     store.StatusPublished,
		Visibility: store.VisibilityPublic,
		Search:     strings.TrimSpace(query.Search),
		Sort:       query.Sort,
	}, page)
	if err != nil {
		return PublicPage{}, err
	}

	ids := make([]uuid.UUID, 0, len(result.Notes))
	for _, note := range result.Notes {
		ids = append(ids, note.ID)
	}
	mine, err := e.store.ListUserVotes(ctx, actor.UserID, ids)
	if err != nil {
		return PublicPage{}, fmt.Errorf("list user votes: %w", err)
	}
	votes := make(map[string]VoteStatus, len(result.Notes))
	for _, note := range result.Notes {
		votes[note.ID.String()] = StatusOf(mine[note.ID], note.VoteCount)
	}
	return PublicPage{Notes: result.Notes, Meta: result.Meta, UserVotes: votes}, nil
}

// PublicNote is one public note with the actor's vote on it.
type PublicNote struct {
	Note     NoteView   `json:"note"`
	UserVote VoteStatus `json:"userVote"`
}

// GetPublic returns a public published note of the actor's tenant. Any other
// note is reported as not found, including the actor's own drafts.
func (e *Engine) GetPublic(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (PublicNote, error) {
	note, err := e.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (note.TenantID != actor.TenantID || !rbac.IsPublished(note))) {
		return PublicNote{}, apperr.NotFound(rbac.CodeNoteNotFound, "note not found")
	}
	if err != nil {
		return PublicNote{}, fmt.Errorf("load note: %w", err)
	}
	attached, err := e.store.ListNoteTags(ctx, noteID)
	if err != nil {
		return PublicNote{}, fmt.Errorf("list note tags: %w", err)
	}
	mine, err := e.store.ListUserVotes(ctx, actor.UserID, []uuid.UUID{noteID})
	if err != nil {
		return PublicNote{}, fmt.Errorf("list user votes: %w", err)
	}
	return PublicNote{
		Note:     viewOf(note, attached),
		UserVote: StatusOf(mine[noteID], note.VoteCount),
	}, nil
}

// Dashboard summarises the actor's notes and the tenant's workspaces.
func (e *Engine) Dashboard(ctx context.Context, actor rbac.Actor) (DashboardView, error) {
	counts, err := e.store.DashboardCounts(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return DashboardView{}, fmt.Errorf("dashboard counts: %w", err)
	}
	recent, _, err := e.store.ListNotes(ctx, store.NoteFilter{
		TenantID: actor.TenantID,
		AuthorID: actor.UserID,
		Sort:     store.SortUpdated,
		Limit:    DashboardRecent,
	})
	if err != nil {
		return DashboardView{}, fmt.Errorf("recent notes: %w", err)
	}
	views, err := e.hydrate(ctx, recent)
	if err != nil {
		return DashboardView{}, err
	}
	return DashboardView{
		Stats: DashboardStats{
			TotalNotes:      counts.TotalNotes,
			DraftNotes:      counts.DraftNotes,
			PublicNotes:     counts.PublicNotes,
			TotalWorkspaces: counts.TotalWorkspaces,
		},
		RecentNotes: views,
	}, nil
}

// Search finds public published notes of the actor's tenant by title. The
// search backend only proposes ids; the notes are re-read through the store
// so an index that lags behind a visibility change cannot leak a note.
func (e *Engine) Search(ctx context.Context, actor rbac.Actor, text string, limit int) ([]NoteView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("invalid search", map[string]string{"q": "is required"})
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	if limit < 1 || limit > MaxSearchLimit {
		return nil, apperr.Validation("invalid search", map[string]string{
			"limit": fmt.Sprintf("must be between 1 and %d", MaxSearchLimit),
		})
	}

	filter := store.NoteFilter{
		TenantID:   actor.TenantID,
		Status:     store.StatusPublished,
		Visibility: store.VisibilityPublic,
		Sort:       store.SortUpdated,
		Limit:      limit,
	}
	var ranked []uuid.UUID
	if e.searcher != nil {
		ids, err := e.searcher.Search(ctx, actor.TenantID, text, limit)
		if err == nil {
			ranked = ids
			filter.IDs = ids
		} else {
			e.log.Debug().Err(err).Msg("search backend unavailable, using store")
		}
	}
	if filter.IDs == nil {
		filter.Search = text
	}

	items, _, err := e.store.ListNotes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search notes: %w", err)
	}
	if ranked != nil {
		items = orderByRank(items, ranked)
	}
	return e.hydrate(ctx, items)
}

func orderByRank(items []store.Note, ranked []uuid.UUID) []store.Note {
	byID := make(map[uuid.UUID]store.Note, len(items))
	for _, note := range items {
		byID[note.ID] = note
	}
	out := make([]store.Note, 0, len(items))
	for _, id := range ranked {
		if note, ok := byID[id]; ok {
			out = append(out, note)
			delete(byID, id)
		}
	}
	return out
}
