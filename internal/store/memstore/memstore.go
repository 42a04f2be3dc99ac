// Package memstore is an in-memory store.Store. Every operation holds one
// global lock, and InTx runs against a private copy of the data that replaces
// the shared state only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"notespace/internal/store"
)

type voteKey struct {
	noteID uuid.UUID
	userID uuid.UUID
}

type state struct {
	tenants    map[uuid.UUID]store.Tenant
	users      map[uuid.UUID]store.User
	workspaces map[uuid.UUID]store.Workspace
	notes      map[uuid.UUID]store.Note
	tags       map[uuid.UUID]store.Tag
	noteTags   map[uuid.UUID]map[uuid.UUID]struct{}
	votes      map[voteKey]store.Vote
	histories  map[uuid.UUID]store.NoteHistory
	sessions   map[string]store.Session
}

func newState() *state {
	return &state{
		tenants:    map[uuid.UUID]store.Tenant{},
		users:      map[uuid.UUID]store.User{},
		workspaces: map[uuid.UUID]store.Workspace{},
		notes:      map[uuid.UUID]store.Note{},
		tags:       map[uuid.UUID]store.Tag{},
		noteTags:   map[uuid.UUID]map[uuid.UUID]struct{}{},
		votes:      map[voteKey]store.Vote{},
		histories:  map[uuid.UUID]store.NoteHistory{},
		sessions:   map[string]store.Session{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (st *state) clone() *state {
	noteTags := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(st.noteTags))
	for noteID, set := range st.noteTags {
		noteTags[noteID] = copyMap(set)
	}
	return &state{
		tenants:    copyMap(st.tenants),
		users:      copyMap(st.users),
		workspaces: copyMap(st.workspaces),
		notes:      copyMap(st.notes),
		tags:       copyMap(st.tags),
		noteTags:   noteTags,
		votes:      copyMap(st.votes),
		histories:  copyMap(st.histories),
		sessions:   copyMap(st.sessions),
	}
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// Faults lets tests make a named operation fail, for example to check that a
// transaction rolls back when its last write fails.
type Faults struct {
	mu     sync.Mutex
	errors map[string]error
}

func (f *Faults) Set(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errors == nil {
		f.errors = map[string]error{}
	}
	if err == nil {
		delete(f.errors, op)
		return
	}
	f.errors[op] = err
}

func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[op]
}

type queries struct {
	st     *state
	lock   sync.Locker
	faults *Faults
}

type Store struct {
	*queries
	mu     sync.Mutex
	Faults *Faults
}

func New() *Store {
	s := &Store{Faults: &Faults{}}
	s.queries = &queries{st: newState(), lock: &s.mu, faults: s.Faults}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.queries.st.clone()
	if err := fn(&queries{st: draft, lock: noLock{}, faults: s.Faults}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.queries.st = draft
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// begin takes the lock and reports a cancelled context or an injected fault.
func (q *queries) begin(ctx context.Context, op string) error {
	q.lock.Lock()
	if err := ctx.Err(); err != nil {
		q.lock.Unlock()
		return err
	}
	if err := q.faults.check(op); err != nil {
		q.lock.Unlock()
		return err
	}
	return nil
}

func (q *queries) GetTenantByHostname(ctx context.Context, hostname string) (store.Tenant, error) {
	if err := q.begin(ctx, "GetTenantByHostname"); err != nil {
		return store.Tenant{}, err
	}
	defer q.lock.Unlock()
	for _, tenant := range q.st.tenants {
		if tenant.Hostname == hostname {
			return tenant, nil
		}
	}
	return store.Tenant{}, store.ErrNotFound
}

func (q *queries) GetTenant(ctx context.Context, id uuid.UUID) (store.Tenant, error) {
	if err := q.begin(ctx, "GetTenant"); err != nil {
		return store.Tenant{}, err
	}
	defer q.lock.Unlock()
	tenant, ok := q.st.tenants[id]
	if !ok {
		return store.Tenant{}, store.ErrNotFound
	}
	return tenant, nil
}

func (q *queries) InsertTenant(ctx context.Context, tenant store.Tenant) error {
	if err := q.begin(ctx, "InsertTenant"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	for _, existing := range q.st.tenants {
		if existing.Hostname == tenant.Hostname {
			return store.ErrConflict
		}
	}
	q.st.tenants[tenant.ID] = tenant
	return nil
}

func (q *queries) GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	if err := q.begin(ctx, "GetUserByID"); err != nil {
		return store.User{}, err
	}
	defer q.lock.Unlock()
	user, ok := q.st.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (q *queries) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (store.User, error) {
	if err := q.begin(ctx, "GetUserByEmail"); err != nil {
		return store.User{}, err
	}
	defer q.lock.Unlock()
	for _, user := range q.st.users {
		if user.TenantID == tenantID && user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (q *queries) InsertUser(ctx context.Context, user store.User) error {
	if err := q.begin(ctx, "InsertUser"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	for _, existing := range q.st.users {
		if existing.TenantID == user.TenantID && existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	q.st.users[user.ID] = user
	return nil
}

// DeleteUser exists for tests that exercise sessions outliving their user.
func (s *Store) DeleteUser(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queries.st.users, id)
}

func (q *queries) liveNoteCount(workspaceID uuid.UUID) int {
	count := 0
	for _, note := range q.st.notes {
		if note.WorkspaceID == workspaceID && note.DeletedAt == nil {
			count++
		}
	}
	return count
}

func (q *queries) GetWorkspace(ctx context.Context, tenantID, id uuid.UUID) (store.Workspace, error) {
	if err := q.begin(ctx, "GetWorkspace"); err != nil {
		return store.Workspace{}, err
	}
	defer q.lock.Unlock()
	ws, ok := q.st.workspaces[id]
	if !ok || ws.TenantID != tenantID || ws.DeletedAt != nil {
		return store.Workspace{}, store.ErrNotFound
	}
	ws.NoteCount = q.liveNoteCount(ws.ID)
	return ws, nil
}

func (q *queries) ListWorkspaces(ctx context.Context, filter store.WorkspaceFilter) ([]store.Workspace, int, error) {
	if err := q.begin(ctx, "ListWorkspaces"); err != nil {
		return nil, 0, err
	}
	defer q.lock.Unlock()
	search := strings.ToLower(filter.Search)
	items := make([]store.Workspace, 0)
	for _, ws := range q.st.workspaces {
		if ws.TenantID != filter.TenantID || ws.DeletedAt != nil {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(ws.Name), search) {
			continue
		}
		ws.NoteCount = q.liveNoteCount(ws.ID)
		items = append(items, ws)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	total := len(items)
	return paginate(items, filter.Limit, filter.Offset), total, nil
}

func (q *queries) InsertWorkspace(ctx context.Context, workspace store.Workspace) error {
	if err := q.begin(ctx, "InsertWorkspace"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	q.st.workspaces[workspace.ID] = workspace
	return nil
}

// DeleteWorkspace soft-deletes a workspace; there is no API for it.
func (s *Store) DeleteWorkspace(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.queries.st.workspaces[id]
	if !ok {
		return
	}
	ws.DeletedAt = &at
	s.queries.st.workspaces[id] = ws
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// liveNote returns the note with its joined fields when neither the note nor
// its workspace is soft-deleted.
func (q *queries) liveNote(id uuid.UUID) (store.Note, bool) {
	note, ok := q.st.notes[id]
	if !ok || note.DeletedAt != nil {
		return store.Note{}, false
	}
	ws, ok := q.st.workspaces[note.WorkspaceID]
	if !ok || ws.DeletedAt != nil {
		return store.Note{}, false
	}
	note.TenantID = ws.TenantID
	note.WorkspaceName = ws.Name
	note.AuthorName = q.st.users[note.UserID].FullName
	return note, true
}

func (q *queries) GetNote(ctx context.Context, id uuid.UUID) (store.Note, error) {
	if err := q.begin(ctx, "GetNote"); err != nil {
		return store.Note{}, err
	}
	defer q.lock.Unlock()
	note, ok := q.liveNote(id)
	if !ok {
		return store.Note{}, store.ErrNotFound
	}
	return note, nil
}

func (q *queries) GetNoteForUpdate(ctx context.Context, id uuid.UUID) (store.Note, error) {
	if err := q.begin(ctx, "GetNoteForUpdate"); err != nil {
		return store.Note{}, err
	}
	defer q.lock.Unlock()
	note, ok := q.liveNote(id)
	if !ok {
		return store.Note{}, store.ErrNotFound
	}
	return note, nil
}

func (q *queries) InsertNote(ctx context.Context, note store.Note) error {
	if err := q.begin(ctx, "InsertNote"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	note.VoteCount = 0
	note.TenantID = uuid.Nil
	note.AuthorName = ""
	note.WorkspaceName = ""
	q.st.notes[note.ID] = note
	return nil
}

func (q *queries) UpdateNoteFields(ctx context.Context, note store.Note) error {
	if err := q.begin(ctx, "UpdateNoteFields"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	current, ok := q.st.notes[note.ID]
	if !ok || current.DeletedAt != nil {
		return store.ErrNotFound
	}
	current.Title = note.Title
	current.Content = note.Content
	current.Status = note.Status
	current.Visibility = note.Visibility
	current.UpdatedAt = note.UpdatedAt
	q.st.notes[note.ID] = current
	return nil
}

func (q *queries) AutosaveNote(ctx context.Context, id uuid.UUID, title string, content *string, at time.Time) error {
	if err := q.begin(ctx, "AutosaveNote"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	current, ok := q.st.notes[id]
	if !ok || current.DeletedAt != nil {
		return store.ErrNotFound
	}
	current.Title = title
	current.Content = content
	current.LastAutosaveAt = &at
	current.UpdatedAt = at
	q.st.notes[id] = current
	return nil
}

func (q *queries) SoftDeleteNote(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := q.begin(ctx, "SoftDeleteNote"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	current, ok := q.st.notes[id]
	if !ok || current.DeletedAt != nil {
		return store.ErrNotFound
	}
	current.DeletedAt = &at
	current.UpdatedAt = at
	q.st.notes[id] = current
	return nil
}

func (q *queries) AdjustVoteCount(ctx context.Context, noteID uuid.UUID, delta int) (int, error) {
	if err := q.begin(ctx, "AdjustVoteCount"); err != nil {
		return 0, err
	}
	defer q.lock.Unlock()
	current, ok := q.st.notes[noteID]
	if !ok {
		return 0, store.ErrNotFound
	}
	current.VoteCount += delta
	q.st.notes[noteID] = current
	return current.VoteCount, nil
}

func noteLess(sortBy string, a, b store.Note) bool {
	switch sortBy {
	case store.SortNewest:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	case store.SortOldest:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	case store.SortMostUpvoted:
		if a.VoteCount != b.VoteCount {
			return a.VoteCount > b.VoteCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	case store.SortMostDownvoted:
		if a.VoteCount != b.VoteCount {
			return a.VoteCount < b.VoteCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
	default:
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
	}
	return a.ID.String() < b.ID.String()
}

func (q *queries) ListNotes(ctx context.Context, filter store.NoteFilter) ([]store.Note, int, error) {
	if err := q.begin(ctx, "ListNotes"); err != nil {
		return nil, 0, err
	}
	defer q.lock.Unlock()

	var ids map[uuid.UUID]bool
	if filter.IDs != nil {
		ids = make(map[uuid.UUID]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}
	search := strings.ToLower(filter.Search)

	items := make([]store.Note, 0)
	for id := range q.st.notes {
		note, ok := q.liveNote(id)
		if !ok || note.TenantID != filter.TenantID {
			continue
		}
		if filter.ViewerID != uuid.Nil && note.UserID != filter.ViewerID &&
			!(note.Visibility == store.VisibilityPublic && note.Status == store.StatusPublished) {
			continue
		}
		if filter.WorkspaceID != uuid.Nil && note.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.AuthorID != uuid.Nil && note.UserID != filter.AuthorID {
			continue
		}
		if ids != nil && !ids[note.ID] {
			continue
		}
		if filter.Status != "" && note.Status != filter.Status {
			continue
		}
		if filter.Visibility != "" && note.Visibility != filter.Visibility {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(note.Title), search) {
			continue
		}
		items = append(items, note)
	}
	sort.Slice(items, func(i, j int) bool {
		return noteLess(filter.Sort, items[i], items[j])
	})
	total := len(items)
	return paginate(items, filter.Limit, filter.Offset), total, nil
}

func (q *queries) DashboardCounts(ctx context.Context, tenantID, userID uuid.UUID) (store.DashboardCounts, error) {
	if err := q.begin(ctx, "DashboardCounts"); err != nil {
		return store.DashboardCounts{}, err
	}
	defer q.lock.Unlock()
	var counts store.DashboardCounts
	for id := range q.st.notes {
		note, ok := q.liveNote(id)
		if !ok || note.TenantID != tenantID || note.UserID != userID {
			continue
		}
		counts.TotalNotes++
		if note.Status == store.StatusDraft {
			counts.DraftNotes++
		}
		if note.Status == store.StatusPublished && note.Visibility == store.VisibilityPublic {
			counts.PublicNotes++
		}
	}
	for _, ws := range q.st.workspaces {
		if ws.TenantID == tenantID && ws.DeletedAt == nil {
			counts.TotalWorkspaces++
		}
	}
	return counts, nil
}

func (q *queries) GetTagByName(ctx context.Context, name string) (store.Tag, error) {
	if err := q.begin(ctx, "GetTagByName"); err != nil {
		return store.Tag{}, err
	}
	defer q.lock.Unlock()
	for _, tag := range q.st.tags {
		if tag.Name == name {
			return tag, nil
		}
	}
	return store.Tag{}, store.ErrNotFound
}

func (q *queries) InsertTag(ctx context.Context, tag store.Tag) error {
	if err := q.begin(ctx, "InsertTag"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	for _, existing := range q.st.tags {
		if existing.Name == tag.Name {
			return store.ErrConflict
		}
	}
	q.st.tags[tag.ID] = tag
	return nil
}

func (q *queries) tagsOf(noteID uuid.UUID) []store.Tag {
	items := make([]store.Tag, 0, len(q.st.noteTags[noteID]))
	for tagID := range q.st.noteTags[noteID] {
		items = append(items, q.st.tags[tagID])
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (q *queries) ListNoteTags(ctx context.Context, noteID uuid.UUID) ([]store.Tag, error) {
	if err := q.begin(ctx, "ListNoteTags"); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()
	return q.tagsOf(noteID), nil
}

func (q *queries) ListTagsForNotes(ctx context.Context, noteIDs []uuid.UUID) (map[uuid.UUID][]store.Tag, error) {
	if err := q.begin(ctx, "ListTagsForNotes"); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()
	out := make(map[uuid.UUID][]store.Tag, len(noteIDs))
	for _, id := range noteIDs {
		if tags := q.tagsOf(id); len(tags) > 0 {
			out[id] = tags
		}
	}
	return out, nil
}

func (q *queries) AttachTag(ctx context.Context, noteID, tagID uuid.UUID) error {
	if err := q.begin(ctx, "AttachTag"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	if _, ok := q.st.tags[tagID]; !ok {
		return store.ErrNotFound
	}
	if q.st.noteTags[noteID] == nil {
		q.st.noteTags[noteID] = map[uuid.UUID]struct{}{}
	}
	q.st.noteTags[noteID][tagID] = struct{}{}
	return nil
}

func (q *queries) DetachTag(ctx context.Context, noteID, tagID uuid.UUID) error {
	if err := q.begin(ctx, "DetachTag"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	delete(q.st.noteTags[noteID], tagID)
	return nil
}

func (q *queries) GetVote(ctx context.Context, noteID, userID uuid.UUID) (store.Vote, error) {
	if err := q.begin(ctx, "GetVote"); err != nil {
		return store.Vote{}, err
	}
	defer q.lock.Unlock()
	vote, ok := q.st.votes[voteKey{noteID, userID}]
	if !ok {
		return store.Vote{}, store.ErrNotFound
	}
	return vote, nil
}

func (q *queries) InsertVote(ctx context.Context, vote store.Vote) error {
	if err := q.begin(ctx, "InsertVote"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	key := voteKey{vote.NoteID, vote.UserID}
	if _, ok := q.st.votes[key]; ok {
		return store.ErrConflict
	}
	q.st.votes[key] = vote
	return nil
}

func (q *queries) UpdateVoteType(ctx context.Context, noteID, userID uuid.UUID, voteType string) error {
	if err := q.begin(ctx, "UpdateVoteType"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	key := voteKey{noteID, userID}
	vote, ok := q.st.votes[key]
	if !ok {
		return store.ErrNotFound
	}
	vote.VoteType = voteType
	vote.UpdatedAt = time.Now().UTC()
	q.st.votes[key] = vote
	return nil
}

func (q *queries) DeleteVote(ctx context.Context, noteID, userID uuid.UUID) error {
	if err := q.begin(ctx, "DeleteVote"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	key := voteKey{noteID, userID}
	if _, ok := q.st.votes[key]; !ok {
		return store.ErrNotFound
	}
	delete(q.st.votes, key)
	return nil
}

func (q *queries) VoteBreakdown(ctx context.Context, noteID uuid.UUID) (store.VoteBreakdown, error) {
	if err := q.begin(ctx, "VoteBreakdown"); err != nil {
		return store.VoteBreakdown{}, err
	}
	defer q.lock.Unlock()
	var breakdown store.VoteBreakdown
	for key, vote := range q.st.votes {
		if key.noteID != noteID {
			continue
		}
		switch vote.VoteType {
		case store.VoteUp:
			breakdown.Up++
		case store.VoteDown:
			breakdown.Down++
		}
	}
	return breakdown, nil
}

func (q *queries) ListUserVotes(ctx context.Context, userID uuid.UUID, noteIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if err := q.begin(ctx, "ListUserVotes"); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()
	out := make(map[uuid.UUID]string, len(noteIDs))
	for _, id := range noteIDs {
		if vote, ok := q.st.votes[voteKey{id, userID}]; ok {
			out[id] = vote.VoteType
		}
	}
	return out, nil
}

func (q *queries) InsertHistory(ctx context.Context, entry store.NoteHistory) error {
	if err := q.begin(ctx, "InsertHistory"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	entry.Tags = append([]store.Tag{}, entry.Tags...)
	entry.EditorName = ""
	q.st.histories[entry.ID] = entry
	return nil
}

func (q *queries) withEditor(entry store.NoteHistory) store.NoteHistory {
	entry.EditorName = q.st.users[entry.UserID].FullName
	entry.Tags = append([]store.Tag{}, entry.Tags...)
	return entry
}

func (q *queries) GetHistory(ctx context.Context, noteID, historyID uuid.UUID) (store.NoteHistory, error) {
	if err := q.begin(ctx, "GetHistory"); err != nil {
		return store.NoteHistory{}, err
	}
	defer q.lock.Unlock()
	entry, ok := q.st.histories[historyID]
	if !ok || entry.NoteID != noteID {
		return store.NoteHistory{}, store.ErrNotFound
	}
	return q.withEditor(entry), nil
}

func (q *queries) historySince(noteID uuid.UUID, since time.Time) []store.NoteHistory {
	items := make([]store.NoteHistory, 0)
	for _, entry := range q.st.histories {
		if entry.NoteID == noteID && !entry.CreatedAt.Before(since) {
			items = append(items, q.withEditor(entry))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items
}

func (q *queries) ListHistory(ctx context.Context, noteID uuid.UUID, since time.Time) ([]store.NoteHistory, error) {
	if err := q.begin(ctx, "ListHistory"); err != nil {
		return nil, err
	}
	defer q.lock.Unlock()
	return q.historySince(noteID, since), nil
}

func (q *queries) HistoryStats(ctx context.Context, noteID uuid.UUID, since time.Time) (store.HistoryStats, error) {
	if err := q.begin(ctx, "HistoryStats"); err != nil {
		return store.HistoryStats{}, err
	}
	defer q.lock.Unlock()
	items := q.historySince(noteID, since)
	stats := store.HistoryStats{Total: len(items)}
	if len(items) > 0 {
		newest := items[0].CreatedAt
		oldest := items[len(items)-1].CreatedAt
		stats.Newest = &newest
		stats.Oldest = &oldest
	}
	return stats, nil
}

func (q *queries) DeleteHistoryBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := q.begin(ctx, "DeleteHistoryBefore"); err != nil {
		return 0, err
	}
	defer q.lock.Unlock()
	expired := make([]store.NoteHistory, 0)
	for _, entry := range q.st.histories {
		if entry.CreatedAt.Before(cutoff) {
			expired = append(expired, entry)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	expired = paginate(expired, limit, 0)
	for _, entry := range expired {
		delete(q.st.histories, entry.ID)
	}
	return int64(len(expired)), nil
}

func (q *queries) SaveSession(ctx context.Context, session store.Session) error {
	if err := q.begin(ctx, "SaveSession"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	q.st.sessions[session.TokenHash] = session
	return nil
}

func (q *queries) LookupSession(ctx context.Context, tokenHash string, now time.Time) (store.Session, error) {
	if err := q.begin(ctx, "LookupSession"); err != nil {
		return store.Session{}, err
	}
	defer q.lock.Unlock()
	session, ok := q.st.sessions[tokenHash]
	if !ok || !session.ExpiresAt.After(now) {
		return store.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (q *queries) DeleteSession(ctx context.Context, tokenHash string) error {
	if err := q.begin(ctx, "DeleteSession"); err != nil {
		return err
	}
	defer q.lock.Unlock()
	delete(q.st.sessions, tokenHash)
	return nil
}

var _ store.Store = (*Store)(nil)
