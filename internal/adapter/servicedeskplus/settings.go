package servicedeskplus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
)

// Settings are the plugin-level options from the discovery manifest.
type Settings struct {
	BaseDelay time.Duration
	// TenantField is the user-defined request field holding the tenant id.
	TenantField string
	Priorities  map[string]ticket.Priority
}

type settingsJSON struct {
	BaseDelay   string            `json:"base_delay"`
	TenantField string            `json:"tenant_field"`
	Priorities  map[string]string `json:"priorities"`
}

// DefaultSettings returns the settings used when the manifest sets none.
func DefaultSettings() Settings {
	return Settings{
		BaseDelay:   time.Second,
		TenantField: "udf_tenant_id",
		Priorities:  map[string]ticket.Priority{},
	}
}

// ParseSettings overlays raw manifest settings onto DefaultSettings.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	s := DefaultSettings()
	if len(raw) == 0 {
		return s, nil
	}

	var in settingsJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return s, fmt.Errorf("servicedeskplus settings: %w", err)
	}
	if in.BaseDelay != "" {
		d, err := time.ParseDuration(in.BaseDelay)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("servicedeskplus settings: invalid base_delay %q", in.BaseDelay)
		}
		s.BaseDelay = d
	}
	if in.TenantField != "" {
		s.TenantField = in.TenantField
	}
	for token, level := range in.Priorities {
		p := ticket.Priority(strings.ToLower(level))
		if !p.Valid() {
			return s, fmt.Errorf("servicedeskplus settings: priority %q maps to unknown level %q", token, level)
		}
		s.Priorities[strings.ToLower(token)] = p
	}
	return s, nil
}

// Config is a tenant's ServiceDesk Plus connection.
type Config struct {
	BaseURL   string
	AuthToken string
}

// ConfigFromCredentials validates creds for technician-key authentication.
func ConfigFromCredentials(creds tenant.Credentials) (Config, error) {
	if err := creds.Validate(); err != nil {
		return Config{}, err
	}
	return Config{
		BaseURL:   strings.TrimRight(creds.BaseURL, "/"),
		AuthToken: creds.APIToken,
	}, nil
}
