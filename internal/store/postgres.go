package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxTxAttempts = 3

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	*pgQueries
	db *sql.DB
}

type pgQueries struct {
	q querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{pgQueries: &pgQueries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// InTx runs fn at READ COMMITTED. Callers serialise on a note by reading it
// with GetNoteForUpdate first. Serialization failures and deadlocks are
// retried a bounded number of times.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryableTx(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(term) + "%"
}

func (s *pgQueries) GetTenantByHostname(ctx context.Context, hostname string) (Tenant, error) {
	var tenant Tenant
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, hostname, created_at FROM tenants WHERE hostname=$1
	`, hostname).Scan(&tenant.ID, &tenant.Name, &tenant.Hostname, &tenant.CreatedAt)
	if err != nil {
		return Tenant{}, notFound(err, "get tenant by hostname")
	}
	return tenant, nil
}

func (s *pgQueries) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	var tenant Tenant
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, hostname, created_at FROM tenants WHERE id=$1
	`, id).Scan(&tenant.ID, &tenant.Name, &tenant.Hostname, &tenant.CreatedAt)
	if err != nil {
		return Tenant{}, notFound(err, "get tenant")
	}
	return tenant, nil
}

func (s *pgQueries) InsertTenant(ctx context.Context, tenant Tenant) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tenants (id, name, hostname, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, tenant.ID, tenant.Name, tenant.Hostname, tenant.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

const userColumns = `id, tenant_id, full_name, email, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.TenantID, &user.FullName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func (s *pgQueries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return user, nil
}

func (s *pgQueries) GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE tenant_id=$1 AND email=$2
	`, tenantID, email))
	if err != nil {
		return User{}, notFound(err, "get user by email")
	}
	return user, nil
}

func (s *pgQueries) InsertUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, full_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, user.ID, user.TenantID, user.FullName, user.Email, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const workspaceColumns = `
	w.id, w.tenant_id, w.name, w.deleted_at, w.created_at, w.updated_at,
	(SELECT COUNT(*) FROM notes n WHERE n.workspace_id = w.id AND n.deleted_at IS NULL)
`

func scanWorkspace(row interface{ Scan(...any) error }) (Workspace, error) {
	var ws Workspace
	err := row.Scan(&ws.ID, &ws.TenantID, &ws.Name, &ws.DeletedAt, &ws.CreatedAt, &ws.UpdatedAt, &ws.NoteCount)
	return ws, err
}

func (s *pgQueries) GetWorkspace(ctx context.Context, tenantID, id uuid.UUID) (Workspace, error) {
	ws, err := scanWorkspace(s.q.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces w
		WHERE w.id=$1 AND w.tenant_id=$2 AND w.deleted_at IS NULL
	`, id, tenantID))
	if err != nil {
		return Workspace{}, notFound(err, "get workspace")
	}
	return ws, nil
}

func (s *pgQueries) ListWorkspaces(ctx context.Context, filter WorkspaceFilter) ([]Workspace, int, error) {
	where := []string{"w.tenant_id = $1", "w.deleted_at IS NULL"}
	args := []any{filter.TenantID}
	if filter.Search != "" {
		args = append(args, likePattern(filter.Search))
		where = append(where, fmt.Sprintf("w.name ILIKE $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces w WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workspaces: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM workspaces w
		WHERE %s
		ORDER BY w.name, w.id
		LIMIT $%d OFFSET $%d
	`, workspaceColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, total, nil
}

func (s *pgQueries) InsertWorkspace(ctx context.Context, workspace Workspace) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workspaces (id, tenant_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, workspace.ID, workspace.TenantID, workspace.Name, workspace.CreatedAt, workspace.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

const noteSelect = `
	SELECT n.id, n.workspace_id, w.tenant_id, n.user_id, n.title, n.content, n.status, n.visibility,
	       n.vote_count, n.last_autosave_at, n.deleted_at, n.created_at, n.updated_at, u.full_name, w.name
	FROM notes n
	JOIN workspaces w ON w.id = n.workspace_id
	JOIN users u ON u.id = n.user_id
`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var note Note
	err := row.Scan(
		&note.ID,
		&note.WorkspaceID,
		&note.TenantID,
		&note.UserID,
		&note.Title,
		&note.Content,
		&note.Status,
		&note.Visibility,
		&note.VoteCount,
		&note.LastAutosaveAt,
		&note.DeletedAt,
		&note.CreatedAt,
		&note.UpdatedAt,
		&note.AuthorName,
		&note.WorkspaceName,
	)
	return note, err
}

func (s *pgQueries) GetNote(ctx context.Context, id uuid.UUID) (Note, error) {
	note, err := scanNote(s.q.QueryRowContext(ctx, noteSelect+`
		WHERE n.id=$1 AND n.deleted_at IS NULL AND w.deleted_at IS NULL
	`, id))
	if err != nil {
		return Note{}, notFound(err, "get note")
	}
	return note, nil
}

func (s *pgQueries) GetNoteForUpdate(ctx context.Context, id uuid.UUID) (Note, error) {
	note, err := scanNote(s.q.QueryRowContext(ctx, noteSelect+`
		WHERE n.id=$1 AND n.deleted_at IS NULL AND w.deleted_at IS NULL
		FOR UPDATE OF n
	`, id))
	if err != nil {
		return Note{}, notFound(err, "lock note")
	}
	return note, nil
}

func (s *pgQueries) InsertNote(ctx context.Context, note Note) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notes (id, workspace_id, user_id, title, content, status, visibility, vote_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
	`, note.ID, note.WorkspaceID, note.UserID, note.Title, note.Content, note.Status, note.Visibility, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *pgQueries) UpdateNoteFields(ctx context.Context, note Note) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE notes
		SET title=$2, content=$3, status=$4, visibility=$5, updated_at=$6
		WHERE id=$1 AND deleted_at IS NULL
	`, note.ID, note.Title, note.Content, note.Status, note.Visibility, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireAffected(result, "update note")
}

func (s *pgQueries) AutosaveNote(ctx context.Context, id uuid.UUID, title string, content *string, at time.Time) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE notes
		SET title=$2, content=$3, last_autosave_at=$4, updated_at=$4
		WHERE id=$1 AND deleted_at IS NULL
	`, id, title, content, at)
	if err != nil {
		return fmt.Errorf("autosave note: %w", err)
	}
	return requireAffected(result, "autosave note")
}

func (s *pgQueries) SoftDeleteNote(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE notes SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete note: %w", err)
	}
	return requireAffected(result, "soft delete note")
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgQueries) AdjustVoteCount(ctx context.Context, noteID uuid.UUID, delta int) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		UPDATE notes SET vote_count = vote_count + $2 WHERE id=$1 RETURNING vote_count
	`, noteID, delta).Scan(&count)
	if err != nil {
		return 0, notFound(err, "adjust vote count")
	}
	return count, nil
}

func noteOrder(sort string) string {
	switch sort {
	case SortNewest:
		return "n.created_at DESC, n.id"
	case SortOldest:
		return "n.created_at ASC, n.id"
	case SortMostUpvoted:
		return "n.vote_count DESC, n.created_at DESC, n.id"
	case SortMostDownvoted:
		return "n.vote_count ASC, n.created_at DESC, n.id"
	default:
		return "n.updated_at DESC, n.id"
	}
}

func (s *pgQueries) ListNotes(ctx context.Context, filter NoteFilter) ([]Note, int, error) {
	where := []string{"w.tenant_id = $1", "n.deleted_at IS NULL", "w.deleted_at IS NULL"}
	args := []any{filter.TenantID}
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ViewerID != uuid.Nil {
		add("(n.user_id = $%d OR (n.visibility = 'public' AND n.status = 'published'))", filter.ViewerID)
	}
	if filter.WorkspaceID != uuid.Nil {
		add("n.workspace_id = $%d", filter.WorkspaceID)
	}
	if filter.AuthorID != uuid.Nil {
		add("n.user_id = $%d", filter.AuthorID)
	}
	if filter.IDs != nil {
		add("n.id = ANY($%d::uuid[])", uuidStrings(filter.IDs))
	}
	if filter.Status != "" {
		add("n.status = $%d", filter.Status)
	}
	if filter.Visibility != "" {
		add("n.visibility = $%d", filter.Visibility)
	}
	if filter.Search != "" {
		add("n.title ILIKE $%d", likePattern(filter.Search))
	}
	clause := strings.Join(where, " AND ")
	from := `FROM notes n JOIN workspaces w ON w.id = n.workspace_id WHERE ` + clause

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}

	query := noteSelect + ` WHERE ` + clause + ` ORDER BY ` + noteOrder(filter.Sort)
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, note)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notes: %w", err)
	}
	return items, total, nil
}

func (s *pgQueries) DashboardCounts(ctx context.Context, tenantID, userID uuid.UUID) (DashboardCounts, error) {
	var counts DashboardCounts
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE n.status = 'draft'),
			COUNT(*) FILTER (WHERE n.status = 'published' AND n.visibility = 'public')
		FROM notes n
		JOIN workspaces w ON w.id = n.workspace_id
		WHERE n.user_id=$1 AND w.tenant_id=$2 AND n.deleted_at IS NULL AND w.deleted_at IS NULL
	`, userID, tenantID).Scan(&counts.TotalNotes, &counts.DraftNotes, &counts.PublicNotes)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("count dashboard notes: %w", err)
	}
	err = s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workspaces WHERE tenant_id=$1 AND deleted_at IS NULL
	`, tenantID).Scan(&counts.TotalWorkspaces)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("count dashboard workspaces: %w", err)
	}
	return counts, nil
}

func (s *pgQueries) GetTagByName(ctx context.Context, name string) (Tag, error) {
	var tag Tag
	err := s.q.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name=$1`, name).Scan(&tag.ID, &tag.Name)
	if err != nil {
		return Tag{}, notFound(err, "get tag")
	}
	return tag, nil
}

// InsertTag skips the row on a name collision instead of raising, so the
// surrounding transaction stays usable for the follow-up lookup.
func (s *pgQueries) InsertTag(ctx context.Context, tag Tag) error {
	var id uuid.UUID
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`, tag.ID, tag.Name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *pgQueries) ListNoteTags(ctx context.Context, noteID uuid.UUID) ([]Tag, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.id, t.name
		FROM note_tags nt
		JOIN tags t ON t.id = nt.tag_id
		WHERE nt.note_id=$1
		ORDER BY t.name
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

func (s *pgQueries) ListTagsForNotes(ctx context.Context, noteIDs []uuid.UUID) (map[uuid.UUID][]Tag, error) {
	out := make(map[uuid.UUID][]Tag, len(noteIDs))
	if len(noteIDs) == 0 {
		return out, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT nt.note_id, t.id, t.name
		FROM note_tags nt
		JOIN tags t ON t.id = nt.tag_id
		WHERE nt.note_id = ANY($1::uuid[])
		ORDER BY t.name
	`, uuidStrings(noteIDs))
	if err != nil {
		return nil, fmt.Errorf("list tags for notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var noteID uuid.UUID
		var tag Tag
		if err := rows.Scan(&noteID, &tag.ID, &tag.Name); err != nil {
			return nil, fmt.Errorf("scan note tag: %w", err)
		}
		out[noteID] = append(out[noteID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate note tags: %w", err)
	}
	return out, nil
}

func (s *pgQueries) AttachTag(ctx context.Context, noteID, tagID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO note_tags (note_id, tag_id) VALUES ($1, $2)
		ON CONFLICT (note_id, tag_id) DO NOTHING
	`, noteID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (s *pgQueries) DetachTag(ctx context.Context, noteID, tagID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id=$1 AND tag_id=$2`, noteID, tagID)
	if err != nil {
		return fmt.Errorf("detach tag: %w", err)
	}
	return nil
}

func (s *pgQueries) GetVote(ctx context.Context, noteID, userID uuid.UUID) (Vote, error) {
	var vote Vote
	err := s.q.QueryRowContext(ctx, `
		SELECT id, note_id, user_id, vote_type, created_at, updated_at
		FROM votes WHERE note_id=$1 AND user_id=$2
	`, noteID, userID).Scan(&vote.ID, &vote.NoteID, &vote.UserID, &vote.VoteType, &vote.CreatedAt, &vote.UpdatedAt)
	if err != nil {
		return Vote{}, notFound(err, "get vote")
	}
	return vote, nil
}

func (s *pgQueries) InsertVote(ctx context.Context, vote Vote) error {
	var id uuid.UUID
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO votes (id, note_id, user_id, vote_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (note_id, user_id) DO NOTHING
		RETURNING id
	`, vote.ID, vote.NoteID, vote.UserID, vote.VoteType, vote.CreatedAt, vote.UpdatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (s *pgQueries) UpdateVoteType(ctx context.Context, noteID, userID uuid.UUID, voteType string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE votes SET vote_type=$3, updated_at=NOW() WHERE note_id=$1 AND user_id=$2
	`, noteID, userID, voteType)
	if err != nil {
		return fmt.Errorf("update vote: %w", err)
	}
	return requireAffected(result, "update vote")
}

func (s *pgQueries) DeleteVote(ctx context.Context, noteID, userID uuid.UUID) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM votes WHERE note_id=$1 AND user_id=$2`, noteID, userID)
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return requireAffected(result, "delete vote")
}

func (s *pgQueries) VoteBreakdown(ctx context.Context, noteID uuid.UUID) (VoteBreakdown, error) {
	var breakdown VoteBreakdown
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE vote_type = 'up'),
			COUNT(*) FILTER (WHERE vote_type = 'down')
		FROM votes WHERE note_id=$1
	`, noteID).Scan(&breakdown.Up, &breakdown.Down)
	if err != nil {
		return VoteBreakdown{}, fmt.Errorf("vote breakdown: %w", err)
	}
	return breakdown, nil
}

func (s *pgQueries) ListUserVotes(ctx context.Context, userID uuid.UUID, noteIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(noteIDs))
	if len(noteIDs) == 0 {
		return out, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT note_id, vote_type FROM votes WHERE user_id=$1 AND note_id = ANY($2::uuid[])
	`, userID, uuidStrings(noteIDs))
	if err != nil {
		return nil, fmt.Errorf("list user votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var noteID uuid.UUID
		var voteType string
		if err := rows.Scan(&noteID, &voteType); err != nil {
			return nil, fmt.Errorf("scan user vote: %w", err)
		}
		out[noteID] = voteType
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user votes: %w", err)
	}
	return out, nil
}

func (s *pgQueries) InsertHistory(ctx context.Context, entry NoteHistory) error {
	tags := entry.Tags
	if tags == nil {
		tags = []Tag{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal history tags: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO note_histories (id, note_id, user_id, title, content, status, visibility, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, entry.ID, entry.NoteID, entry.UserID, entry.Title, entry.Content, entry.Status, entry.Visibility, string(encodedTags), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

const historySelect = `
	SELECT h.id, h.note_id, h.user_id, h.title, h.content, h.status, h.visibility, h.tags::text, h.created_at, u.full_name
	FROM note_histories h
	JOIN users u ON u.id = h.user_id
`

func scanHistory(row interface{ Scan(...any) error }) (NoteHistory, error) {
	var entry NoteHistory
	var encodedTags string
	if err := row.Scan(
		&entry.ID,
		&entry.NoteID,
		&entry.UserID,
		&entry.Title,
		&entry.Content,
		&entry.Status,
		&entry.Visibility,
		&encodedTags,
		&entry.CreatedAt,
		&entry.EditorName,
	); err != nil {
		return NoteHistory{}, err
	}
	if err := json.Unmarshal([]byte(encodedTags), &entry.Tags); err != nil {
		return NoteHistory{}, fmt.Errorf("decode history tags: %w", err)
	}
	return entry, nil
}

func (s *pgQueries) GetHistory(ctx context.Context, noteID, historyID uuid.UUID) (NoteHistory, error) {
	entry, err := scanHistory(s.q.QueryRowContext(ctx, historySelect+`
		WHERE h.note_id=$1 AND h.id=$2
	`, noteID, historyID))
	if err != nil {
		return NoteHistory{}, notFound(err, "get history")
	}
	return entry, nil
}

func (s *pgQueries) ListHistory(ctx context.Context, noteID uuid.UUID, since time.Time) ([]NoteHistory, error) {
	rows, err := s.q.QueryContext(ctx, historySelect+`
		WHERE h.note_id=$1 AND h.created_at >= $2
		ORDER BY h.created_at DESC, h.id
	`, noteID, since)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]NoteHistory, 0)
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

func (s *pgQueries) HistoryStats(ctx context.Context, noteID uuid.UUID, since time.Time) (HistoryStats, error) {
	var stats HistoryStats
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at)
		FROM note_histories
		WHERE note_id=$1 AND created_at >= $2
	`, noteID, since).Scan(&stats.Total, &stats.Oldest, &stats.Newest)
	if err != nil {
		return HistoryStats{}, fmt.Errorf("history stats: %w", err)
	}
	return stats, nil
}

func (s *pgQueries) DeleteHistoryBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM note_histories
		WHERE id IN (
			SELECT id FROM note_histories
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete history rows affected: %w", err)
	}
	return deleted, nil
}

func (s *pgQueries) SaveSession(ctx context.Context, session Session) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, tenant_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, session.TokenHash, session.UserID, session.TenantID, session.ExpiresAt, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *pgQueries) LookupSession(ctx context.Context, tokenHash string, now time.Time) (Session, error) {
	var session Session
	err := s.q.QueryRowContext(ctx, `
		SELECT token_hash, user_id, tenant_id, expires_at, created_at
		FROM sessions
		WHERE token_hash=$1 AND expires_at > $2
	`, tokenHash, now).Scan(&session.TokenHash, &session.UserID, &session.TenantID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		return Session{}, notFound(err, "lookup session")
	}
	return session, nil
}

func (s *pgQueries) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
