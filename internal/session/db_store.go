package session

import (
	"context"
	"time"

	"notespace/internal/store"
)

// SessionQueries is the slice of store.Queries that DBStore needs.
type SessionQueries interface {
	SaveSession(ctx context.Context, session store.Session) error
	LookupSession(ctx context.Context, tokenHash string, now time.Time) (store.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// DBStore keeps sessions in the primary database. Used when Redis is not
// configured.
type DBStore struct {
	queries SessionQueries
}

func NewDBStore(queries SessionQueries) *DBStore {
	return &DBStore{queries: queries}
}

func (s *DBStore) Save(ctx context.Context, sess store.Session) error {
	return s.queries.SaveSession(ctx, sess)
}

func (s *DBStore) Lookup(ctx context.Context, tokenHash string, now time.Time) (store.Session, error) {
	return s.queries.LookupSession(ctx, tokenHash, now)
}

func (s *DBStore) Delete(ctx context.Context, tokenHash string) error {
	return s.queries.DeleteSession(ctx, tokenHash)
}

func (s *DBStore) Ping(ctx context.Context) error {
	return nil
}
