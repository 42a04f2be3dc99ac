// Package tags canonicalises tag labels and reconciles a note's tag set.
package tags

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"notespace/internal/apperr"
	"notespace/internal/store"
)

const (
	MaxTagsPerNote = 20
	MaxNameLength  = 100
)

type Queries interface {
	GetTagByName(ctx context.Context, name string) (store.Tag, error)
	InsertTag(ctx context.Context, tag store.Tag) error
	ListNoteTags(ctx context.Context, noteID uuid.UUID) ([]store.Tag, error)
	AttachTag(ctx context.Context, noteID, tagID uuid.UUID) error
	DetachTag(ctx context.Context, noteID, tagID uuid.UUID) error
}

// Normalize trims and lower-cases every name and drops later duplicates.
func Normalize(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for i, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			return nil, apperr.Validation("invalid tags", map[string]string{
				fmt.Sprintf("tags.%d", i): "must not be empty",
			})
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return nil, apperr.Validation("invalid tags", map[string]string{
				fmt.Sprintf("tags.%d", i): fmt.Sprintf("must be at most %d characters", MaxNameLength),
			})
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) > MaxTagsPerNote {
		return nil, apperr.Validation("invalid tags", map[string]string{
			"tags": fmt.Sprintf("at most %d tags per note", MaxTagsPerNote),
		})
	}
	return out, nil
}

// GetOrCreate returns the tag with the given normalized name, creating it if
// needed. Losing a creation race to another writer is not an error.
func GetOrCreate(ctx context.Context, q Queries, name string) (store.Tag, error) {
	tag, err := q.GetTagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Tag{}, fmt.Errorf("lookup tag: %w", err)
	}

	tag = store.Tag{ID: uuid.New(), Name: name}
	err = q.InsertTag(ctx, tag)
	if errors.Is(err, store.ErrConflict) {
		winner, err := q.GetTagByName(ctx, name)
		if err != nil {
			return store.Tag{}, fmt.Errorf("reload tag after conflict: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return store.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

// Reconcile replaces the note's tag set with exactly names. Unchanged
// associations are left in place. An empty list clears every tag. The
// resulting set is returned ordered by name.
func Reconcile(ctx context.Context, q Queries, noteID uuid.UUID, names []string) ([]store.Tag, error) {
	normalized, err := Normalize(names)
	if err != nil {
		return nil, err
	}

	wanted := make(map[uuid.UUID]store.Tag, len(normalized))
	for _, name := range normalized {
		tag, err := GetOrCreate(ctx, q, name)
		if err != nil {
			return nil, err
		}
		wanted[tag.ID] = tag
	}

	current, err := q.ListNoteTags(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note tags: %w", err)
	}
	have := make(map[uuid.UUID]bool, len(current))
	for _, tag := range current {
		have[tag.ID] = true
		if _, keep := wanted[tag.ID]; keep {
			continue
		}
		if err := q.DetachTag(ctx, noteID, tag.ID); err != nil {
			return nil, fmt.Errorf("detach tag: %w", err)
		}
	}
	for id := range wanted {
		if have[id] {
			continue
		}
		if err := q.AttachTag(ctx, noteID, id); err != nil {
			return nil, fmt.Errorf("attach tag: %w", err)
		}
	}

	result := make([]store.Tag, 0, len(wanted))
	for _, tag := range wanted {
		result = append(result, tag)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Names returns the tag names in order.
func Names(tags []store.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag.Name)
	}
	return out
}
