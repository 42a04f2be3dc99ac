package search

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notespace/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Either backend may be nil.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	// source feeds full rebuilds of the Meilisearch index.
	source publicNotes
	log    zerolog.Logger
}

type publicNotes interface {
	LoadPublicNotes(ctx context.Context) ([]NoteRecord, error)
}

const reindexTimeout = 5 * time.Minute

// NewService wires the backends. When Meilisearch comes back from an outage
// the index is rebuilt from PostgreSQL.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	s := &Service{meili: meili, pgfts: pgfts, log: log}
	if pgfts != nil {
		s.source = pgfts
	}
	if meili != nil {
		meili.OnRecover(s.reindexAfterOutage)
	}
	return s
}

func (s *Service) reindexAfterOutage() {
	ctx, cancel := context.WithTimeout(context.Background(), reindexTimeout)
	defer cancel()
	s.ReindexAllFromPG(ctx)
}

// Search returns ids of matching public notes in the tenant. It reports
// ErrUnavailable when neither backend can serve the query.
func (s *Service) Search(ctx context.Context, tenantID uuid.UUID, text string, limit int) ([]uuid.UUID, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(ctx, tenantID, text, limit)
		if err == nil {
			return ids, nil
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}
	if s.pgfts == nil {
		return nil, ErrUnavailable
	}
	return s.pgfts.Search(ctx, tenantID, text, limit)
}

// Upsert indexes a public published note.
func (s *Service) Upsert(_ context.Context, note store.Note, tags []store.Tag) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.IndexNote(RecordOf(note, tags))
}

// Remove drops a note from the index.
func (s *Service) Remove(_ context.Context, noteID uuid.UUID) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.DeleteNote(noteID.String())
}

// ReindexAllFromPG pushes every public published note from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.source == nil {
		return
	}
	records, err := s.source.LoadPublicNotes(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexNotes(records); err != nil {
		s.log.Error().Err(err).Msg("reindex notes failed")
		return
	}
	s.log.Info().Int("notes", len(records)).Msg("search index rebuilt")
}

func RecordOf(note store.Note, tags []store.Tag) NoteRecord {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return NoteRecord{
		ID:          note.ID.String(),
		TenantID:    note.TenantID.String(),
		WorkspaceID: note.WorkspaceID.String(),
		Title:       note.Title,
		Tags:        names,
		VoteCount:   note.VoteCount,
		CreatedAt:   note.CreatedAt.Unix(),
	}
}
