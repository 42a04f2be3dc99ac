// Package tenant resolves the company a request belongs to from its host.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notespace/internal/apperr"
	"notespace/internal/store"
)

const CodeCompanyNotFound = "COMPANY_NOT_FOUND"

type Lookup interface {
	GetTenantByHostname(ctx context.Context, hostname string) (store.Tenant, error)
	InsertTenant(ctx context.Context, tenant store.Tenant) error
}

type Directory struct {
	store       Lookup
	defaultHost string
	aliases     map[string]string
	log         zerolog.Logger
	now         func() time.Time
}

func NewDirectory(lookup Lookup, defaultHost string, aliases map[string]string, log zerolog.Logger) *Directory {
	if defaultHost == "" {
		defaultHost = "localhost"
	}
	copied := make(map[string]string, len(aliases))
	for from, to := range aliases {
		copied[from] = to
	}
	return &Directory{
		store:       lookup,
		defaultHost: defaultHost,
		aliases:     copied,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Hostname reduces an inbound Host header to the value tenants are stored
// under: the port is dropped, aliases are applied, and an empty host becomes
// the default host. Case is preserved.
func (d *Directory) Hostname(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if alias, ok := d.aliases[host]; ok {
		host = alias
	}
	if host == "" {
		host = d.defaultHost
	}
	return host
}

func (d *Directory) Resolve(ctx context.Context, host string) (store.Tenant, error) {
	hostname := d.Hostname(host)
	tenant, err := d.store.GetTenantByHostname(ctx, hostname)
	if errors.Is(err, store.ErrNotFound) {
		return store.Tenant{}, apperr.NotFound(CodeCompanyNotFound, "company not found")
	}
	if err != nil {
		return store.Tenant{}, fmt.Errorf("resolve tenant: %w", err)
	}
	return tenant, nil
}

type Seed struct {
	Hostname string
	Name     string
}

// Bootstrap creates any seeded tenant that does not exist yet. Hostnames are
// unique, so concurrent bootstraps settle on one row.
func (d *Directory) Bootstrap(ctx context.Context, seeds []Seed) error {
	for _, seed := range seeds {
		_, err := d.store.GetTenantByHostname(ctx, seed.Hostname)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lookup tenant %s: %w", seed.Hostname, err)
		}
		err = d.store.InsertTenant(ctx, store.Tenant{
			ID:        uuid.New(),
			Name:      seed.Name,
			Hostname:  seed.Hostname,
			CreatedAt: d.now(),
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create tenant %s: %w", seed.Hostname, err)
		}
		d.log.Info().Str("hostname", seed.Hostname).Msg("tenant created")
	}
	return nil
}
