// Package tenantstore defines the port through which plugins resolve
// per-tenant webhook secrets and tool credentials.
package tenantstore

import (
	"context"

	"github.com/Strob0t/TicketForge/internal/domain/tenant"
)

// Lookup resolves a tenant's configuration. Implementations return an error
// wrapping domain.ErrNotFound when the tenant does not exist.
type Lookup interface {
	GetTenantConfig(ctx context.Context, tenantID string) (*tenant.Config, error)
}

// Store extends Lookup with the writes used by operational tooling.
type Store interface {
	Lookup
	UpsertTenantConfig(ctx context.Context, cfg *tenant.Config) error
	ListTenantConfigs(ctx context.Context) ([]tenant.Config, error)
}
