package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notespace/internal/auth"
	"notespace/internal/store"
)

// ErrNoSession is returned for missing, malformed, unknown or expired tokens.
var ErrNoSession = errors.New("no session")

type Backend interface {
	Save(ctx context.Context, sess store.Session) error
	Lookup(ctx context.Context, tokenHash string, now time.Time) (store.Session, error)
	Delete(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

// Manager issues opaque tokens and resolves them through a Backend. Raw
// tokens are returned to the caller once and never stored.
type Manager struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

func NewManager(backend Backend, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{
		backend: backend,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) Issue(ctx context.Context, userID, tenantID uuid.UUID) (string, store.Session, error) {
	token, err := auth.GenerateToken()
	if err != nil {
		return "", store.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := m.now()
	sess := store.Session{
		TokenHash: auth.HashToken(token),
		UserID:    userID,
		TenantID:  tenantID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.backend.Save(ctx, sess); err != nil {
		return "", store.Session{}, err
	}
	return token, sess, nil
}

func (m *Manager) Lookup(ctx context.Context, token string) (store.Session, error) {
	if err := auth.ValidateToken(token); err != nil {
		return store.Session{}, ErrNoSession
	}
	sess, err := m.backend.Lookup(ctx, auth.HashToken(token), m.now())
	if errors.Is(err, store.ErrNotFound) {
		return store.Session{}, ErrNoSession
	}
	if err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

// Destroy is a no-op for tokens that are malformed or already gone.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if auth.ValidateToken(token) != nil {
		return nil
	}
	return m.backend.Delete(ctx, auth.HashToken(token))
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}
