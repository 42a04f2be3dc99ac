package store

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"

	VisibilityPrivate = "private"
	VisibilityPublic  = "public"

	VoteUp   = "up"
	VoteDown = "down"
)

type Tenant struct {
	ID        uuid.UUID
	Name      string
	Hostname  string
	CreatedAt time.Time
}

type User struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	FullName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Workspace struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	NoteCount int
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note is a note row joined with the tenant of its workspace and the
// display names of its author and workspace.
type Note struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	TenantID       uuid.UUID
	UserID         uuid.UUID
	Title          string
	Content        *string
	Status         string
	Visibility     string
	VoteCount      int
	LastAutosaveAt *time.Time
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	AuthorName    string
	WorkspaceName string
}

type Tag struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Vote struct {
	ID        uuid.UUID
	NoteID    uuid.UUID
	UserID    uuid.UUID
	VoteType  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteHistory is an append-only snapshot of a note taken immediately before
// a change to one of its tracked fields.
type NoteHistory struct {
	ID         uuid.UUID
	NoteID     uuid.UUID
	UserID     uuid.UUID
	Title      string
	Content    *string
	Status     string
	Visibility string
	Tags       []Tag
	CreatedAt  time.Time

	EditorName string
}

type HistoryStats struct {
	Total  int
	Oldest *time.Time
	Newest *time.Time
}

type VoteBreakdown struct {
	Up   int
	Down int
}

type Session struct {
	TokenHash string
	UserID    uuid.UUID
	TenantID  uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

type DashboardCounts struct {
	TotalNotes      int
	DraftNotes      int
	PublicNotes     int
	TotalWorkspaces int
}

// Sort orders accepted by ListNotes.
const (
	SortUpdated       = "updated"
	SortNewest        = "newest"
	SortOldest        = "oldest"
	SortMostUpvoted   = "most_upvoted"
	SortMostDownvoted = "most_downvoted"
)

// NoteFilter narrows ListNotes. TenantID is mandatory. When ViewerID is set
// the result is limited to notes the viewer may see: their own notes and
// public published notes.
type NoteFilter struct {
	TenantID    uuid.UUID
	ViewerID    uuid.UUID
	WorkspaceID uuid.UUID
	AuthorID    uuid.UUID
	IDs         []uuid.UUID
	Status      string
	Visibility  string
	Search      string
	Sort        string
	Limit       int
	Offset      int
}

type WorkspaceFilter struct {
	TenantID uuid.UUID
	Search   string
	Limit    int
	Offset   int
}
