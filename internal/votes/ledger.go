// Package votes records one vote per user and note and keeps the note's
// vote_count equal to the sum of its votes. The vote row and the tally move
// together in one transaction that holds the note's row lock.
package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notespace/internal/apperr"
	"notespace/internal/notes"
	"notespace/internal/rbac"
	"notespace/internal/store"
)

const (
	MaxBulkNotes = 30

	CodeAlreadyVoted = "ALREADY_VOTED"
	CodeVoteNotFound = "VOTE_NOT_FOUND"
)

// Stats is the breakdown of a note's votes. Score equals the note's tally.
type Stats struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
	Total     int `json:"total"`
	Score     int `json:"score"`
}

// CastResult reports the actor's vote after Cast. Changed is set when an
// existing vote of the other type was replaced.
type CastResult struct {
	Status  notes.VoteStatus
	Changed bool
}

type Ledger struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewLedger(st store.Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: st, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func weight(voteType string) int {
	switch voteType {
	case store.VoteUp:
		return 1
	case store.VoteDown:
		return -1
	}
	return 0
}

// Delta is the change to a tally when a user's vote goes from old to next.
// An empty string means no vote.
func Delta(old, next string) int {
	return weight(next) - weight(old)
}

func notFound() error {
	return apperr.NotFound(rbac.CodeNoteNotFound, "note not found")
}

// lockNote loads and locks the note, hiding notes outside the actor's tenant.
func lockNote(ctx context.Context, q store.Queries, actor rbac.Actor, noteID uuid.UUID) (store.Note, error) {
	note, err := q.GetNoteForUpdate(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound()
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load note: %w", err)
	}
	if note.TenantID != actor.TenantID {
		return store.Note{}, notFound()
	}
	return note, nil
}

// Cast records the actor's vote. Voting is only possible on public published
// notes; anything else is reported as not found. Repeating the current vote
// is a conflict.
func (l *Ledger) Cast(ctx context.Context, actor rbac.Actor, noteID uuid.UUID, voteType string) (CastResult, error) {
	if voteType != store.VoteUp && voteType != store.VoteDown {
		return CastResult{}, apperr.Validation("invalid vote", map[string]string{
			"voteType": "must be one of up, down",
		})
	}

	var result CastResult
	err := l.store.InTx(ctx, func(q store.Queries) error {
		note, err := lockNote(ctx, q, actor, noteID)
		if err != nil {
			return err
		}
		if !rbac.IsPublished(note) {
			return notFound()
		}

		previous := ""
		existing, err := q.GetVote(ctx, noteID, actor.UserID)
		switch {
		case err == nil:
			previous = existing.VoteType
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("load vote: %w", err)
		}

		switch previous {
		case voteType:
			return apperr.Conflict(CodeAlreadyVoted, fmt.Sprintf("you have already %svoted this note", voteType))
		case "":
			now := l.now()
			err := q.InsertVote(ctx, store.Vote{
				ID:        uuid.New(),
				NoteID:    noteID,
				UserID:    actor.UserID,
				VoteType:  voteType,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if errors.Is(err, store.ErrConflict) {
				return apperr.Conflict(CodeAlreadyVoted, "your vote on this note changed concurrently")
			}
			if err != nil {
				return fmt.Errorf("insert vote: %w", err)
			}
		default:
			if err := q.UpdateVoteType(ctx, noteID, actor.UserID, voteType); err != nil {
				return fmt.Errorf("update vote: %w", err)
			}
			result.Changed = true
		}

		count, err := q.AdjustVoteCount(ctx, noteID, Delta(previous, voteType))
		if err != nil {
			return fmt.Errorf("adjust vote count: %w", err)
		}
		result.Status = notes.StatusOf(voteType, count)
		return nil
	})
	if err != nil {
		return CastResult{}, err
	}
	l.log.Debug().
		Str("note_id", noteID.String()).
		Str("user_id", actor.UserID.String()).
		Str("vote_type", voteType).
		Bool("changed", result.Changed).
		Msg("vote cast")
	return result, nil
}

// Remove withdraws the actor's vote. It does not require the note to still
// be public, so a vote can be taken back after the note is unpublished.
func (l *Ledger) Remove(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (notes.VoteStatus, error) {
	var status notes.VoteStatus
	err := l.store.InTx(ctx, func(q store.Queries) error {
		if _, err := lockNote(ctx, q, actor, noteID); err != nil {
			return err
		}
		existing, err := q.GetVote(ctx, noteID, actor.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(CodeVoteNotFound, "you have not voted on this note")
		}
		if err != nil {
			return fmt.Errorf("load vote: %w", err)
		}
		if err := q.DeleteVote(ctx, noteID, actor.UserID); err != nil {
			return fmt.Errorf("delete vote: %w", err)
		}
		count, err := q.AdjustVoteCount(ctx, noteID, Delta(existing.VoteType, ""))
		if err != nil {
			return fmt.Errorf("adjust vote count: %w", err)
		}
		status = notes.StatusOf("", count)
		return nil
	})
	if err != nil {
		return notes.VoteStatus{}, err
	}
	return status, nil
}

// visibleNote returns the note when the actor may view it. Notes the actor
// cannot see are reported as not found.
func (l *Ledger) visibleNote(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (store.Note, error) {
	note, err := l.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound()
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("load note: %w", err)
	}
	if !rbac.Can(actor, note, rbac.ActionView) {
		return store.Note{}, notFound()
	}
	return note, nil
}

func (l *Ledger) Status(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (notes.VoteStatus, error) {
	note, err := l.visibleNote(ctx, actor, noteID)
	if err != nil {
		return notes.VoteStatus{}, err
	}
	vote, err := l.store.GetVote(ctx, noteID, actor.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return notes.StatusOf("", note.VoteCount), nil
	}
	if err != nil {
		return notes.VoteStatus{}, fmt.Errorf("load vote: %w", err)
	}
	return notes.StatusOf(vote.VoteType, note.VoteCount), nil
}

func (l *Ledger) Stats(ctx context.Context, actor rbac.Actor, noteID uuid.UUID) (Stats, error) {
	if _, err := l.visibleNote(ctx, actor, noteID); err != nil {
		return Stats{}, err
	}
	breakdown, err := l.store.VoteBreakdown(ctx, noteID)
	if err != nil {
		return Stats{}, fmt.Errorf("vote breakdown: %w", err)
	}
	return Stats{
		Upvotes:   breakdown.Up,
		Downvotes: breakdown.Down,
		Total:     breakdown.Up + breakdown.Down,
		Score:     breakdown.Up - breakdown.Down,
	}, nil
}

// BulkStatus returns the actor's vote status for every requested note, keyed
// by note id. Notes the actor cannot see get an empty entry.
func (l *Ledger) BulkStatus(ctx context.Context, actor rbac.Actor, noteIDs []uuid.UUID) (map[string]notes.VoteStatus, error) {
	if len(noteIDs) == 0 {
		return nil, apperr.Validation("invalid request", map[string]string{"noteIds": "must be a non-empty array"})
	}
	if len(noteIDs) > MaxBulkNotes {
		return nil, apperr.Validation("invalid request", map[string]string{
			"noteIds": fmt.Sprintf("cannot fetch votes for more than %d notes at once", MaxBulkNotes),
		})
	}

	visible, _, err := l.store.ListNotes(ctx, store.NoteFilter{
		TenantID: actor.TenantID,
		ViewerID: actor.UserID,
		IDs:      noteIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(visible))
	ids := make([]uuid.UUID, 0, len(visible))
	for _, note := range visible {
		counts[note.ID] = note.VoteCount
		ids = append(ids, note.ID)
	}
	mine, err := l.store.ListUserVotes(ctx, actor.UserID, ids)
	if err != nil {
		return nil, fmt.Errorf("list user votes: %w", err)
	}

	out := make(map[string]notes.VoteStatus, len(noteIDs))
	for _, id := range noteIDs {
		out[id.String()] = notes.StatusOf(mine[id], counts[id])
	}
	return out, nil
}
