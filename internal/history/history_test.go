package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/apperr"
	"notespace/internal/store"
	"notespace/internal/store/memstore"
	"notespace/internal/tags"
)

func strPtr(s string) *string { return &s }

func TestTrackedFieldsChanged(t *testing.T) {
	base := store.Note{Title: "t", Content: strPtr("c"), Status: store.StatusDraft, Visibility: store.VisibilityPrivate, VoteCount: 1}
	cases := []struct {
		name   string
		mutate func(n *store.Note)
		want   bool
	}{
		{name: "nothing", mutate: func(n *store.Note) {}, want: false},
		{name: "title", mutate: func(n *store.Note) { n.Title = "u" }, want: true},
		{name: "content", mutate: func(n *store.Note) { n.Content = strPtr("d") }, want: true},
		{name: "content to nil", mutate: func(n *store.Note) { n.Content = nil }, want: true},
		{name: "same content new pointer", mutate: func(n *store.Note) { n.Content = strPtr("c") }, want: false},
		{name: "status", mutate: func(n *store.Note) { n.Status = store.StatusPublished }, want: true},
		{name: "visibility", mutate: func(n *store.Note) { n.Visibility = store.VisibilityPublic }, want: true},
		{name: "vote count only", mutate: func(n *store.Note) { n.VoteCount = 9 }, want: false},
		{name: "autosave stamp only", mutate: func(n *store.Note) { now := time.Now(); n.LastAutosaveAt = &now }, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			after := base
			tc.mutate(&after)
			assert.Equal(t, tc.want, TrackedFieldsChanged(base, after))
		})
	}
}

type env struct {
	store  *memstore.Store
	note   store.Note
	editor store.User
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	s := memstore.New()
	now := time.Now().UTC()
	tenant := store.Tenant{ID: uuid.New(), Hostname: "acme.test", CreatedAt: now}
	require.NoError(t, s.InsertTenant(ctx, tenant))
	editor := store.User{ID: uuid.New(), TenantID: tenant.ID, FullName: "Eve Editor", Email: "eve@acme.test", CreatedAt: now}
	require.NoError(t, s.InsertUser(ctx, editor))
	ws := store.Workspace{ID: uuid.New(), TenantID: tenant.ID, Name: "ws", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertWorkspace(ctx, ws))
	note := store.Note{ID: uuid.New(), WorkspaceID: ws.ID, UserID: editor.ID, Title: "before", Content: strPtr("body"), Status: store.StatusDraft, Visibility: store.VisibilityPrivate, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertNote(ctx, note))
	return env{store: s, note: note, editor: editor}
}

func TestCaptureSnapshotsTagsAndEditor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := tags.Reconcile(ctx, e.store, e.note.ID, []string{"go", "db"})
	require.NoError(t, err)

	archive := NewArchive(nil)
	entry, err := archive.Capture(ctx, e.store, e.note, e.editor.ID)
	require.NoError(t, err)
	assert.Equal(t, "before", entry.Title)
	assert.Equal(t, e.editor.ID, entry.UserID)
	assert.Equal(t, []string{"db", "go"}, tags.Names(entry.Tags))

	items, err := archive.List(ctx, e.store, e.note.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Eve Editor", items[0].EditorName)
	assert.Equal(t, []string{"db", "go"}, tags.Names(items[0].Tags))
}

func TestWindowHidesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start := time.Now().UTC()
	clock := start
	archive := NewArchive(func() time.Time { return clock })

	old, err := archive.Capture(ctx, e.store, e.note, e.editor.ID)
	require.NoError(t, err)

	clock = start.Add(6 * 24 * time.Hour)
	recent, err := archive.Capture(ctx, e.store, e.note, e.editor.ID)
	require.NoError(t, err)

	clock = start.Add(8 * 24 * time.Hour)
	items, err := archive.List(ctx, e.store, e.note.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, recent.ID, items[0].ID)

	_, err = archive.Get(ctx, e.store, e.note.ID, old.ID)
	assert.True(t, apperr.HasCode(err, CodeHistoryNotFound))

	got, err := archive.Get(ctx, e.store, e.note.ID, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, recent.ID, got.ID)

	stats, err := archive.Stats(ctx, e.store, e.note.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	require.NotNil(t, stats.Newest)
	assert.True(t, stats.Newest.Equal(recent.CreatedAt))
}

func TestGetRejectsSnapshotOfAnotherNote(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	archive := NewArchive(nil)
	entry, err := archive.Capture(ctx, e.store, e.note, e.editor.ID)
	require.NoError(t, err)

	_, err = archive.Get(ctx, e.store, uuid.New(), entry.ID)
	assert.True(t, apperr.HasCode(err, CodeHistoryNotFound))
}

func TestStatsEmpty(t *testing.T) {
	e := newEnv(t)
	stats, err := NewArchive(nil).Stats(context.Background(), e.store, e.note.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Nil(t, stats.Oldest)
	assert.Nil(t, stats.Newest)
}
