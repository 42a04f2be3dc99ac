package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notespace/internal/apperr"
	"notespace/internal/logging"
	"notespace/internal/store/memstore"
)

func TestHostname(t *testing.T) {
	d := NewDirectory(memstore.New(), "localhost", map[string]string{"www.acme.test": "acme.test"}, logging.Nop())
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: "localhost"},
		{in: "acme.test:8787", want: "acme.test"},
		{in: "www.acme.test", want: "acme.test"},
		{in: "www.acme.test:443", want: "acme.test"},
		{in: "Acme.Test", want: "Acme.Test"},
		{in: "[::1]:8787", want: "::1"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, d.Hostname(tc.in))
		})
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := NewDirectory(s, "localhost", nil, logging.Nop())
	require.NoError(t, d.Bootstrap(ctx, []Seed{{Hostname: "localhost", Name: "Default Company"}, {Hostname: "acme.test", Name: "Acme"}}))

	got, err := d.Resolve(ctx, "acme.test:8787")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	got, err = d.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Default Company", got.Name)

	_, err = d.Resolve(ctx, "ACME.test")
	assert.True(t, apperr.HasCode(err, CodeCompanyNotFound), "lookup is case-sensitive")
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	d := NewDirectory(s, "localhost", nil, logging.Nop())
	seeds := []Seed{{Hostname: "acme.test", Name: "Acme"}}
	require.NoError(t, d.Bootstrap(ctx, seeds))
	require.NoError(t, d.Bootstrap(ctx, seeds))

	first, err := s.GetTenantByHostname(ctx, "acme.test")
	require.NoError(t, err)
	require.NoError(t, d.Bootstrap(ctx, seeds))
	again, err := s.GetTenantByHostname(ctx, "acme.test")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestResolvePropagatesStoreFailure(t *testing.T) {
	s := memstore.New()
	boom := errors.New("connection refused")
	s.Faults.Set("GetTenantByHostname", boom)
	d := NewDirectory(s, "localhost", nil, logging.Nop())

	_, err := d.Resolve(context.Background(), "acme.test")
	assert.ErrorIs(t, err, boom)
	_, isDomain := apperr.As(err)
	assert.False(t, isDomain)
}
