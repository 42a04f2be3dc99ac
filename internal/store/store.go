package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Queries is the set of operations available both outside and inside a
// transaction. Lookups of notes and workspaces never return soft-deleted rows.
type Queries interface {
	GetTenantByHostname(ctx context.Context, hostname string) (Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	InsertTenant(ctx context.Context, tenant Tenant) error

	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (User, error)
	InsertUser(ctx context.Context, user User) error

	GetWorkspace(ctx context.Context, tenantID, id uuid.UUID) (Workspace, error)
	ListWorkspaces(ctx context.Context, filter WorkspaceFilter) ([]Workspace, int, error)
	InsertWorkspace(ctx context.Context, workspace Workspace) error

	GetNote(ctx context.Context, id uuid.UUID) (Note, error)
	// GetNoteForUpdate reads the note and holds its row lock until the
	// surrounding transaction ends.
	GetNoteForUpdate(ctx context.Context, id uuid.UUID) (Note, error)
	InsertNote(ctx context.Context, note Note) error
	UpdateNoteFields(ctx context.Context, note Note) error
	AutosaveNote(ctx context.Context, id uuid.UUID, title string, content *string, at time.Time) error
	SoftDeleteNote(ctx context.Context, id uuid.UUID, at time.Time) error
	AdjustVoteCount(ctx context.Context, noteID uuid.UUID, delta int) (int, error)
	ListNotes(ctx context.Context, filter NoteFilter) ([]Note, int, error)
	DashboardCounts(ctx context.Context, tenantID, userID uuid.UUID) (DashboardCounts, error)

	GetTagByName(ctx context.Context, name string) (Tag, error)
	// InsertTag returns ErrConflict when a tag with the same name exists.
	InsertTag(ctx context.Context, tag Tag) error
	ListNoteTags(ctx context.Context, noteID uuid.UUID) ([]Tag, error)
	ListTagsForNotes(ctx context.Context, noteIDs []uuid.UUID) (map[uuid.UUID][]Tag, error)
	AttachTag(ctx context.Context, noteID, tagID uuid.UUID) error
	DetachTag(ctx context.Context, noteID, tagID uuid.UUID) error

	GetVote(ctx context.Context, noteID, userID uuid.UUID) (Vote, error)
	// InsertVote returns ErrConflict when the user already has a vote on the note.
	InsertVote(ctx context.Context, vote Vote) error
	UpdateVoteType(ctx context.Context, noteID, userID uuid.UUID, voteType string) error
	DeleteVote(ctx context.Context, noteID, userID uuid.UUID) error
	VoteBreakdown(ctx context.Context, noteID uuid.UUID) (VoteBreakdown, error)
	ListUserVotes(ctx context.Context, userID uuid.UUID, noteIDs []uuid.UUID) (map[uuid.UUID]string, error)

	InsertHistory(ctx context.Context, entry NoteHistory) error
	GetHistory(ctx context.Context, noteID, historyID uuid.UUID) (NoteHistory, error)
	ListHistory(ctx context.Context, noteID uuid.UUID, since time.Time) ([]NoteHistory, error)
	HistoryStats(ctx context.Context, noteID uuid.UUID, since time.Time) (HistoryStats, error)
	// DeleteHistoryBefore removes at most limit snapshots created before cutoff.
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	SaveSession(ctx context.Context, session Session) error
	LookupSession(ctx context.Context, tokenHash string, now time.Time) (Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// Store is the persistence boundary. InTx runs fn inside one transaction;
// any error returned by fn rolls every write in it back.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is an infrastructure failure that a client
// may retry, as opposed to a domain outcome.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.SQLState()
		switch {
		case len(code) >= 2 && code[:2] == "08":
			return true
		case code == "40001", code == "40P01", code == "57014", code == "53300":
			return true
		}
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}

func isRetryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.SQLState() == "40001" || pgErr.SQLState() == "40P01"
}
