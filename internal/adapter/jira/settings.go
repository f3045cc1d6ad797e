package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
)

// Settings are the plugin-level options from the discovery manifest.
type Settings struct {
	// BaseDelay is the first retry delay; later ones double.
	BaseDelay time.Duration
	// TenantField is the custom field holding the tenant id when the
	// payload has no top-level tenant_id.
	TenantField string
	// Priorities extend the shared priority vocabulary. Keys are lower-case.
	Priorities map[string]ticket.Priority
}

type settingsJSON struct {
	BaseDelay   string            `json:"base_delay"`
	TenantField string            `json:"tenant_field"`
	Priorities  map[string]string `json:"priorities"`
}

// DefaultSettings returns the settings used when the manifest sets none.
func DefaultSettings() Settings {
	return Settings{
		BaseDelay:   2 * time.Second,
		TenantField: "customfield_10100",
		Priorities: map[string]ticket.Priority{
			"blocker": ticket.PriorityHigh,
			"major":   ticket.PriorityMedium,
			"minor":   ticket.PriorityLow,
			"trivial": ticket.PriorityLow,
		},
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
		return s, fmt.Errorf("jira settings: %w", err)
	}
	if in.BaseDelay != "" {
		d, err := time.ParseDuration(in.BaseDelay)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("jira settings: invalid base_delay %q", in.BaseDelay)
		}
		s.BaseDelay = d
	}
	if in.TenantField != "" {
		s.TenantField = in.TenantField
	}
	for token, level := range in.Priorities {
		p := ticket.Priority(strings.ToLower(level))
		if !p.Valid() {
			return s, fmt.Errorf("jira settings: priority %q maps to unknown level %q", token, level)
		}
		s.Priorities[strings.ToLower(token)] = p
	}
	return s, nil
}

// Config is a tenant's Jira connection, validated from tenant.Credentials.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string
}

// ConfigFromCredentials validates creds for Jira Cloud basic auth.
func ConfigFromCredentials(creds tenant.Credentials) (Config, error) {
	if err := creds.Validate(); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(creds.Username) == "" {
		return Config{}, fmt.Errorf("%w: username (account email) is required", domain.ErrValidation)
	}
	return Config{
		BaseURL:  strings.TrimRight(creds.BaseURL, "/"),
		Email:    creds.Username,
		APIToken: creds.APIToken,
	}, nil
}
