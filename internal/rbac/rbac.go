// Package rbac is the single note access policy. Every note operation asks
// Authorize before touching the note.
package rbac

import (
	"github.com/google/uuid"

	"notespace/internal/apperr"
	"notespace/internal/store"
)

type Action string

const (
	// ActionView covers show, vote status and listing.
	ActionView Action = "view"
	// ActionEdit covers update, publish, unpublish and the history endpoints.
	ActionEdit Action = "edit"
	// ActionOwn covers autosave and destroy.
	ActionOwn Action = "own"
)

const (
	CodeNoteNotFound = "NOTE_NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
)

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

func IsPublished(note store.Note) bool {
	return note.Visibility == store.VisibilityPublic && note.Status == store.StatusPublished
}

// Can reports whether actor may perform action on note. Notes in another
// tenant are never accessible. Authors can do anything with their notes.
// Other members of the tenant can view and edit public published notes.
func Can(actor Actor, note store.Note, action Action) bool {
	if note.TenantID != actor.TenantID || note.DeletedAt != nil {
		return false
	}
	if note.UserID == actor.UserID {
		return true
	}
	switch action {
	case ActionView, ActionEdit:
		return IsPublished(note)
	default:
		return false
	}
}

// Authorize turns Can into a domain error. A note from another tenant yields
// NotFound so its existence does not leak; a visible-but-denied note yields
// Forbidden.
func Authorize(actor Actor, note store.Note, action Action) error {
	if note.TenantID != actor.TenantID || note.DeletedAt != nil {
		return apperr.NotFound(CodeNoteNotFound, "note not found")
	}
	if Can(actor, note, action) {
		return nil
	}
	return apperr.Forbidden(CodeForbidden, "you do not have access to this note")
}
