package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/port/tenantstore"
)

// Store implements tenantstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ tenantstore.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tenantColumns = `tenant_id, tool_type, webhook_secret, active, credentials`

func (s *Store) GetTenantConfig(ctx context.Context, tenantID string) (*tenant.Config, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenant_configs WHERE tenant_id = $1`, tenantID)

	cfg, err := scanTenantConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant config %s: %w", tenantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant config %s: %w", tenantID, err)
	}
	return &cfg, nil
}

func (s *Store) UpsertTenantConfig(ctx context.Context, cfg *tenant.Config) error {
	if cfg.TenantID == "" || cfg.ToolType == "" {
		return fmt.Errorf("upsert tenant config: %w: tenant_id and tool_type are required", domain.ErrValidation)
	}
	credsJSON, err := json.Marshal(toStoredCredentials(cfg.Credentials))
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenant_configs (tenant_id, tool_type, webhook_secret, active, credentials)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET tool_type = EXCLUDED.tool_type, webhook_secret = EXCLUDED.webhook_secret,
		     active = EXCLUDED.active, credentials = EXCLUDED.credentials`,
		cfg.TenantID, cfg.ToolType, cfg.WebhookSecret, cfg.Active, credsJSON)
	if err != nil {
		return fmt.Errorf("upsert tenant config %s: %w", cfg.TenantID, err)
	}
	return nil
}

func (s *Store) ListTenantConfigs(ctx context.Context) ([]tenant.Config, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenant_configs ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenant configs: %w", err)
	}
	defer rows.Close()

	var out []tenant.Config
	for rows.Next() {
		cfg, err := scanTenantConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Ping checks database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanTenantConfig(row pgx.Row) (tenant.Config, error) {
	var (
		cfg       tenant.Config
		credsJSON []byte
	)
	if err := row.Scan(&cfg.TenantID, &cfg.ToolType, &cfg.WebhookSecret, &cfg.Active, &credsJSON); err != nil {
		return tenant.Config{}, err
	}
	if len(credsJSON) > 0 {
		var stored storedCredentials
		if err := json.Unmarshal(credsJSON, &stored); err != nil {
			return tenant.Config{}, fmt.Errorf("unmarshal credentials: %w", err)
		}
		cfg.Credentials = stored.credentials()
	}
	return cfg, nil
}

// storedCredentials is the JSONB shape of tenant_configs.credentials.
type storedCredentials struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username,omitempty"`
	APIToken string `json:"api_token,omitempty"` //nolint:gosec // G117: stored column, written only by this package
}

func toStoredCredentials(c tenant.Credentials) storedCredentials {
	return storedCredentials{BaseURL: c.BaseURL, Username: c.Username, APIToken: c.APIToken}
}

func (s storedCredentials) credentials() tenant.Credentials {
	return tenant.Credentials{BaseURL: s.BaseURL, Username: s.Username, APIToken: s.APIToken}
}
