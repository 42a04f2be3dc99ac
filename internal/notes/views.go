package notes

import (
	"time"

	"github.com/google/uuid"

	"notespace/internal/store"
)

type AuthorSummary struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"fullName"`
}

type WorkspaceSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type NoteView struct {
	ID             uuid.UUID        `json:"id"`
	Title          string           `json:"title"`
	Content        *string          `json:"content"`
	Status         string           `json:"status"`
	Visibility     string           `json:"visibility"`
	VoteCount      int              `json:"voteCount"`
	Tags           []store.Tag      `json:"tags"`
	Author         AuthorSummary    `json:"author"`
	Workspace      WorkspaceSummary `json:"workspace"`
	LastAutosaveAt *time.Time       `json:"lastAutosaveAt"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// VoteStatus is the actor's own vote on a note.
type VoteStatus struct {
	HasVoted  bool    `json:"hasVoted"`
	VoteType  *string `json:"voteType"`
	VoteCount int     `json:"voteCount"`
}

// Meta describes one page of a listing.
type Meta struct {
	Total       int `json:"total"`
	PerPage     int `json:"perPage"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
}

type NotePage struct {
	Notes []NoteView `json:"notes"`
	Meta  Meta       `json:"meta"`
}

// PublicPage is a page of the public directory with the actor's votes keyed
// by note id.
type PublicPage struct {
	Notes     []NoteView            `json:"notes"`
	Meta      Meta                  `json:"meta"`
	UserVotes map[string]VoteStatus `json:"userVotes"`
}

type HistoryEntry struct {
	ID         uuid.UUID     `json:"id"`
	Title      string        `json:"title"`
	Content    *string       `json:"content"`
	Status     string        `json:"status"`
	Visibility string        `json:"visibility"`
	Tags       []store.Tag   `json:"tags"`
	Editor     AuthorSummary `json:"editor"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// HistoryView lists the recent snapshots of a note together with its live
// state.
type HistoryView struct {
	Current NoteView       `json:"current"`
	History []HistoryEntry `json:"history"`
}

type HistoryStatsView struct {
	TotalHistoryEntries int        `json:"totalHistoryEntries"`
	OldestEntry         *time.Time `json:"oldestEntry"`
	NewestEntry         *time.Time `json:"newestEntry"`
}

type DashboardView struct {
	Stats       DashboardStats `json:"stats"`
	RecentNotes []NoteView     `json:"recentNotes"`
}

type DashboardStats struct {
	TotalNotes      int `json:"totalNotes"`
	DraftNotes      int `json:"draftNotes"`
	PublicNotes     int `json:"publicNotes"`
	TotalWorkspaces int `json:"totalWorkspaces"`
}

type WorkspaceView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	NoteCount int       `json:"noteCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WorkspacePage struct {
	Workspaces []WorkspaceView `json:"workspaces"`
	Meta       Meta            `json:"meta"`
}

func viewOf(note store.Note, attached []store.Tag) NoteView {
	if attached == nil {
		attached = []store.Tag{}
	}
	return NoteView{
		ID:             note.ID,
		Title:          note.Title,
		Content:        note.Content,
		Status:         note.Status,
		Visibility:     note.Visibility,
		VoteCount:      note.VoteCount,
		Tags:           attached,
		Author:         AuthorSummary{ID: note.UserID, FullName: note.AuthorName},
		Workspace:      WorkspaceSummary{ID: note.WorkspaceID, Name: note.WorkspaceName},
		LastAutosaveAt: note.LastAutosaveAt,
		CreatedAt:      note.CreatedAt,
		UpdatedAt:      note.UpdatedAt,
	}
}

func historyEntryOf(entry store.NoteHistory) HistoryEntry {
	attached := entry.Tags
	if attached == nil {
		attached = []store.Tag{}
	}
	return HistoryEntry{
		ID:         entry.ID,
		Title:      entry.Title,
		Content:    entry.Content,
		Status:     entry.Status,
		Visibility: entry.Visibility,
		Tags:       attached,
		Editor:     AuthorSummary{ID: entry.UserID, FullName: entry.EditorName},
		CreatedAt:  entry.CreatedAt,
	}
}

func workspaceViewOf(ws store.Workspace) WorkspaceView {
	return WorkspaceView{
		ID:        ws.ID,
		Name:      ws.Name,
		NoteCount: ws.NoteCount,
		CreatedAt: ws.CreatedAt,
		UpdatedAt: ws.UpdatedAt,
	}
}

// StatusOf builds the vote status view for a note tally and the actor's vote
// type, which is empty when they have not voted.
func StatusOf(voteType string, voteCount int) VoteStatus {
	if voteType == "" {
		return VoteStatus{VoteCount: voteCount}
	}
	vt := voteType
	return VoteStatus{HasVoted: true, VoteType: &vt, VoteCount: voteCount}
}
