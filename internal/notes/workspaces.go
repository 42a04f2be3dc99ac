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
	"notespace/internal/rbac"
	"notespace/internal/store"
)

const (
	MaxWorkspaceNameLength = 255
	MaxWorkspacesPerPage   = 10
)

// Workspaces serves the tenant's workspace directory.
type Workspaces struct {
	store store.Queries
	log   zerolog.Logger
	now   func() time.Time
}

func NewWorkspaces(q store.Queries, log zerolog.Logger) *Workspaces {
	return &Workspaces{store: q, log: log, now: func() time.Time { return time.Now().UTC() }}
}

type WorkspaceQuery struct {
	PageRequest
	Search string
}

func (w *Workspaces) List(ctx context.Context, actor rbac.Actor, query WorkspaceQuery) (WorkspacePage, error) {
	page, err := query.resolve(MaxWorkspacesPerPage)
	if err != nil {
		return WorkspacePage{}, err
	}
	items, total, err := w.store.ListWorkspaces(ctx, store.WorkspaceFilter{
		TenantID: actor.TenantID,
		Search:   strings.TrimSpace(query.Search),
		Limit:    page.PerPage,
		Offset:   page.offset(),
	})
	if err != nil {
		return WorkspacePage{}, fmt.Errorf("list workspaces: %w", err)
	}
	views := make([]WorkspaceView, 0, len(items))
	for _, ws := range items {
		views = append(views, workspaceViewOf(ws))
	}
	return WorkspacePage{Workspaces: views, Meta: metaOf(page, total)}, nil
}

func (w *Workspaces) Get(ctx context.Context, actor rbac.Actor, id uuid.UUID) (WorkspaceView, error) {
	ws, err := w.store.GetWorkspace(ctx, actor.TenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return WorkspaceView{}, apperr.NotFound(CodeWorkspaceNotFound, "workspace not found")
	}
	if err != nil {
		return WorkspaceView{}, fmt.Errorf("load workspace: %w", err)
	}
	return workspaceViewOf(ws), nil
}

func (w *Workspaces) Create(ctx context.Context, actor rbac.Actor, name string) (WorkspaceView, error) {
	if strings.TrimSpace(name) == "" {
		return WorkspaceView{}, apperr.Validation("invalid workspace", map[string]string{"name": "is required"})
	}
	if utf8.RuneCountInString(name) > MaxWorkspaceNameLength {
		return WorkspaceView{}, apperr.Validation("invalid workspace", map[string]string{
			"name": fmt.Sprintf("must be at most %d characters", MaxWorkspaceNameLength),
		})
	}
	now := w.now()
	ws := store.Workspace{
		ID:        uuid.New(),
		TenantID:  actor.TenantID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.store.InsertWorkspace(ctx, ws); err != nil {
		return WorkspaceView{}, fmt.Errorf("insert workspace: %w", err)
	}
	w.log.Info().Str("workspace_id", ws.ID.String()).Str("tenant_id", actor.TenantID.String()).Msg("workspace created")
	return workspaceViewOf(ws), nil
}
