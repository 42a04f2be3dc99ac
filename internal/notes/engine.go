// Package notes owns the note lifecycle: creation, edits, status changes,
// soft deletion and restore. Every tracked edit snapshots the previous state
// in the same transaction that writes the new one.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notespace/internal/apperr"
	"notespace/internal/history"
	"notespace/internal/rbac"
	"notespace/internal/store"
	"notespace/internal/tags"
)

const (
	MaxTitleLength   = 500
	MaxContentLength = 10000

	CodeWorkspaceNotFound  = "WORKSPACE_NOT_FOUND"
	CodeAlreadyPublished   = "ALREADY_PUBLISHED"
	CodeAlreadyUnpublished = "ALREADY_UNPUBLISHED"
)

// Indexer receives notes after every committed change.
type Indexer interface {
	Upsert(ctx context.Context, note store.Note, tags []store.Tag) error
	Remove(ctx context.Context, noteID uuid.UUID) error
}

// Searcher returns ids of candidate notes for a title query in a tenant.
type Searcher interface {
	Search(ctx context.Context, tenantID uuid.UUID, query string, limit int) ([]uuid.UUID, error)
}

type Engine struct {
	store    store.Store
	archive  *history.Archive
	indexer  Indexer
	searcher Searcher
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithIndexer(indexer Indexer) Option {
	return func(e *Engine) { e.indexer = indexer }
}

func WithSearcher(searcher Searcher) Option {
	return func(e *Engine) { e.searcher = searcher }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st store.Store, archive *history.Archive, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		archive: archive,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.archive == nil {
		e.archive = history.NewArchive(e.now)
	}
	return e
}

type CreateInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Status     string   `json:"status"`
	Visibility string   `json:"visibility"`
	Tags       []string `json:"tags"`
}

// Patch is a partial update. A nil field is left alone; a non-nil Tags
// pointing at an empty slice clears every tag.
type Patch struct {
	Title      *string   `json:"title"`
	Content    *string   `json:"content"`
	Status     *string   `json:"status"`
	Visibility *string   `json:"visibility"`
	Tags       *[]string `json:"tags"`
}

type AutosaveInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func checkText(details map[string]string, field, value string, max int) {
	if strings.TrimSpace(value) == "" {
		details[field] = "is required"
		return
	}
	if utf8.RuneCountInString(value) > max {
		details[field] = fmt.Sprintf("must be at most %d characters", max)
	}
}

func checkStatus(details map[string]string, value string) {
	if value != store.StatusDraft && value != store.StatusPublished {
		details["status"] = "must be one of draft, published"
	}
}

func checkVisibility(details map[string]string, value string) {
	if value != store.VisibilityPrivate && value != store.VisibilityPublic {
		details["visibility"] = "must be one of private, public"
	}
}

func validationResult(details map[string]string) error {
	if len(details) == 0 {
		return nil
	}
	return apperr.Validation("invalid note", details)
}

func (in *CreateInput) validate() error {
	if in.Status == "" {
		in.Status = store.StatusDraft
	}
	if in.Visibility == "" {
		in.Visibility = store.VisibilityPrivate
	}
	details := map[string]string{}
	checkText(details, "title", in.Title, MaxTitleLength)
	checkText(details, "content", in.Content, MaxContentLength)
	checkStatus(details, in.Status)
	checkVisibility(details, in.Visibility)
	return validationResult(details)
}

func (p Patch) validate() error {
	details := map[string]string{}
	if p.Title != nil {
		checkText(details, "title", *p.Title, MaxTitleLength)
	}
	if p.Content != nil {
		checkText(details, "content", *p.Content, MaxContentLength)
	}
	if p.Status != nil {
		checkStatus(details, *p.Status)
	}
	if p.Visibility != nil {
		checkVisibility(details, *p.Visibility)
	}
	return validationResult(details)
}

func (in AutosaveInput) validate() error {
	details := map[string]string{}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		details["title"] = fmt.Sprintf("must be at most %d characters", MaxTitleLength)
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		details["content"] = fmt.Sprintf("must be at most %d characters", MaxContentLength)
	}
	return validationResult(details)
}

// loadForUpdate locks the note row and checks that actor may perform action.
func loadForUpdate(ctx context.Context, q store.Queries, actor rbac.Actor, noteID uuid.UUID, action rbac.Action) (store.Note, error) {
	note, err := q.GetNoteForUpdate(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, apperr.NotFound(rbac.CodeNoteNotFound, "note not found")
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load note: %w", err)
	}
	if err := rbac.Authorize(actor, note, action); err != nil {
		return store.Note{}, err
	}
	return note, nil
}

// loadVisible reads the note without locking it and checks that actor may
// perform action.
func (e *Engine) loadVisible(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, action rbac.Action) (store.Note, error) {
	note, err := e.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, apperr.NotFound(rbac.CodeNoteNotFound, "note not found")
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load note: %w", err)
	}
	if err := rbac.Authorize(actor, note, action); err != nil {
		return store.Note{}, err
	}
	return note, nil
}

func (e *Engine) Create(ctx context.Context, actor rbac.Actor, workspaceID uuid.UUID, in CreateInput) (NoteView, error) {
	if err := in.validate(); err != nil {
		return NoteView{}, err
	}
	var normalized []string
	if in.Tags != nil {
		var err error
		if normalized, err = tags.Normalize(in.Tags); err != nil {
			return NoteView{}, err
		}
	}

	now := e.now()
	content := in.Content
	note := store.Note{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		UserID:      actor.UserID,
		Title:       in.Title,
		Content:     &content,
		Status:      in.Status,
		Visibility:  in.Visibility,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var (
		created  store.Note
		attached []store.Tag
	)
	err := e.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetWorkspace(ctx, actor.TenantID, workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound(CodeWorkspaceNotFound, "workspace not found")
			}
			return fmt.Errorf("load workspace: %w", err)
		}
		if err := q.InsertNote(ctx, note); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		var err error
		if attached, err = tags.Reconcile(ctx, q, note.ID, normalized); err != nil {
			return err
		}
		if created, err = q.GetNote(ctx, note.ID); err != nil {
			return fmt.Errorf("reload note: %w", err)
		}
		return nil
	})
	if err != nil {
		return NoteView{}, err
	}
	e.reindex(created, attached)
	e.log.Info().
		Str("note_id", created.ID.String()).
		Str("workspace_id", workspaceID.String()).
		Str("user_id", actor.UserID.String()).
		Msg("note created")
	return viewOf(created, attached), nil
}

// Get returns a note the actor may view.
func (e *Engine) Get(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (NoteView, error) {
	note, err := e.loadVisible(ctx, actor, noteID, rbac.ActionView)
	if err != nil {
		return NoteView{}, err
	}
	attached, err := e.store.ListNoteTags(ctx, note.ID)
	if err != nil {
		return NoteView{}, fmt.Errorf("list note tags: %w", err)
	}
	return viewOf(note, attached), nil
}

// mutation is the shared edit path used by update, publish, unpublish and
// restore. check runs against the locked row before anything is written.
type mutation struct {
	action rbac.Action
	check  func(current store.Note) error
	apply  func(next *store.Note)
	tags   *[]string
}

func (e *Engine) mutate(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, m mutation) (NoteView, error) {
	var normalized []string
	if m.tags != nil {
		var err error
		if normalized, err = tags.Normalize(*m.tags); err != nil {
			return NoteView{}, err
		}
	}

	var (
		updated  store.Note
		attached []store.Tag
		captured bool
	)
	err := e.store.InTx(ctx, func(q store.Queries) error {
		current, err := loadForUpdate(ctx, q, actor, noteID, m.action)
		if err != nil {
			return err
		}
		if m.check != nil {
			if err := m.check(current); err != nil {
				return err
			}
		}

		next := current
		m.apply(&next)
		if history.TrackedFieldsChanged(current, next) {
			if _, err := e.archive.Capture(ctx, q, current, actor.UserID); err != nil {
				return err
			}
			captured = true
			next.UpdatedAt = e.now()
			if err := q.UpdateNoteFields(ctx, next); err != nil {
				return fmt.Errorf("update note: %w", err)
			}
		}

		if m.tags != nil {
			if attached, err = tags.Reconcile(ctx, q, noteID, normalized); err != nil {
				return err
			}
		} else if attached, err = q.ListNoteTags(ctx, noteID); err != nil {
			return fmt.Errorf("list note tags: %w", err)
		}
		if updated, err = q.GetNote(ctx, noteID); err != nil {
			return fmt.Errorf("reload note: %w", err)
		}
		return nil
	})
	if err != nil {
		return NoteView{}, err
	}
	e.reindex(updated, attached)
	e.log.Debug().
		Str("note_id", noteID.String()).
		Str("user_id", actor.UserID.String()).
		Bool("history_captured", captured).
		Msg("note updated")
	return viewOf(updated, attached), nil
}

// Update applies patch. Only fields present in the patch change; a history
// snapshot is written first when any tracked field actually differs.
func (e *Engine) Update(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, patch Patch) (NoteView, error) {
	if err := patch.validate(); err != nil {
		return NoteView{}, err
	}
	return e.mutate(ctx, actor, noteID, mutation{
		action: rbac.ActionEdit,
		apply: func(next *store.Note) {
			if patch.Title != nil {
				next.Title = *patch.Title
			}
			if patch.Content != nil {
				content := *patch.Content
				next.Content = &content
			}
			if patch.Status != nil {
				next.Status = *patch.Status
			}
			if patch.Visibility != nil {
				next.Visibility = *patch.Visibility
			}
		},
		tags: patch.Tags,
	})
}

func (e *Engine) Publish(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (NoteView, error) {
	return e.setStatus(ctx, actor, noteID, store.StatusPublished)
}

func (e *Engine) Unpublish(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (NoteView, error) {
	return e.setStatus(ctx, actor, noteID, store.StatusDraft)
}

func (e *Engine) setStatus(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, status string) (NoteView, error) {
	return e.mutate(ctx, actor, noteID, mutation{
		action: rbac.ActionEdit,
		check: func(current store.Note) error {
			if current.Status != status {
				return nil
			}
			if status == store.StatusPublished {
				return apperr.Conflict(CodeAlreadyPublished, "note is already published")
			}
			return apperr.Conflict(CodeAlreadyUnpublished, "note is already unpublished")
		},
		apply: func(next *store.Note) { next.Status = status },
	})
}

// Autosave stores the working title and content without a history entry.
// Empty values keep what is stored. Only the author may autosave.
func (e *Engine) Autosave(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, in AutosaveInput) (time.Time, error) {
	if err := in.validate(); err != nil {
		return time.Time{}, err
	}
	var savedAt time.Time
	var saved store.Note
	err := e.store.InTx(ctx, func(q store.Queries) error {
		current, err := loadForUpdate(ctx, q, actor, noteID, rbac.ActionOwn)
		if err != nil {
			return err
		}
		title := current.Title
		if strings.TrimSpace(in.Title) != "" {
			title = in.Title
		}
		content := current.Content
		if strings.TrimSpace(in.Content) != "" {
			text := in.Content
			content = &text
		}
		savedAt = e.now()
		if err := q.AutosaveNote(ctx, noteID, title, content, savedAt); err != nil {
			return fmt.Errorf("autosave note: %w", err)
		}
		saved = current
		saved.Title = title
		saved.Content = content
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	if rbac.IsPublished(saved) {
		e.reindexByID(saved.ID)
	}
	return savedAt, nil
}

// Destroy soft-deletes a note. A second call finds nothing to delete.
func (e *Engine) Destroy(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) error {
	err := e.store.InTx(ctx, func(q store.Queries) error {
		if _, err := loadForUpdate(ctx, q, actor, noteID, rbac.ActionOwn); err != nil {
			return err
		}
		if err := q.SoftDeleteNote(ctx, noteID, e.now()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound(rbac.CodeNoteNotFound, "note not found")
			}
			return fmt.Errorf("delete note: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.unindex(noteID)
	e.log.Info().Str("note_id", noteID.String()).Str("user_id", actor.UserID.String()).Msg("note deleted")
	return nil
}

// reindex pushes the note to the search index, or removes it when it is no
// longer public and published. Failures are logged only.
func (e *Engine) reindex(note store.Note, attached []store.Tag) {
	if e.indexer == nil {
		return
	}
	if !rbac.IsPublished(note) {
		e.unindex(note.ID)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.indexer.Upsert(ctx, note, attached); err != nil {
			e.log.Warn().Err(err).Str("note_id", note.ID.String()).Msg("search index upsert failed")
		}
	}()
}

func (e *Engine) reindexByID(noteID uuid.UUID) {
	if e.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		note, err := e.store.GetNote(ctx, noteID)
		if err != nil {
			return
		}
		attached, err := e.store.ListNoteTags(ctx, noteID)
		if err != nil {
			return
		}
		if err := e.indexer.Upsert(ctx, note, attached); err != nil {
			e.log.Warn().Err(err).Str("note_id", noteID.String()).Msg("search index upsert failed")
		}
	}()
}

func (e *Engine) unindex(noteID uuid.UUID) {
	if e.indexer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.indexer.Remove(ctx, noteID); err != nil {
			e.log.Warn().Err(err).Str("note_id", noteID.String()).Msg("search index remove failed")
		}
	}()
}
