package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/auth"
	"notespace/internal/store/memstore"
)

func TestManagerIssueLookupDestroy(t *testing.T) {
	ctx := context.Background()
	backends := map[string]Backend{
		"db": NewDBStore(memstore.New()),
	}
	redisStore, _ := setupTestRedis(t)
	backends["redis"] = redisStore

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			m := NewManager(backend, time.Hour)
			userID, tenantID := uuid.New(), uuid.New()

			token, sess, err := m.Issue(ctx, userID, tenantID)
			require.NoError(t, err)
			assert.Equal(t, auth.HashToken(token), sess.TokenHash)
			assert.NotEqual(t, token, sess.TokenHash)

			got, err := m.Lookup(ctx, token)
			require.NoError(t, err)
			assert.Equal(t, userID, got.UserID)
			assert.Equal(t, tenantID, got.TenantID)

			require.NoError(t, m.Destroy(ctx, token))
			_, err = m.Lookup(ctx, token)
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}
}

func TestManagerRejectsMalformedToken(t *testing.T) {
	m := NewManager(NewDBStore(memstore.New()), time.Hour)
	_, err := m.Lookup(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.NoError(t, m.Destroy(context.Background(), "forged"))
}

func TestManagerExpiresSessions(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewDBStore(memstore.New()), time.Minute)
	start := time.Now().UTC()
	m.now = func() time.Time { return start }

	token, _, err := m.Issue(ctx, uuid.New(), uuid.New())
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = m.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManagerSurfacesBackendFailure(t *testing.T) {
	s := memstore.New()
	boom := errors.New("connection reset")
	s.Faults.Set("LookupSession", boom)
	m := NewManager(NewDBStore(s), time.Hour)

	token, err := auth.GenerateToken()
	require.NoError(t, err)
	_, err = m.Lookup(context.Background(), token)
	assert.ErrorIs(t, err, boom)
}
