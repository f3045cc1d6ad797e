// Package tenant defines the per-tenant integration configuration consumed by plugins.
package tenant

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Strob0t/TicketForge/internal/domain"
)

// Config is a tenant's integration configuration as stored by the platform.
// Plugins read it per call and never retain it.
type Config struct {
	TenantID      string      `json:"tenant_id"`
	ToolType      string      `json:"tool_type"`
	WebhookSecret string      `json:"-"`
	Active        bool        `json:"active"`
	Credentials   Credentials `json:"credentials"`
}

// Credentials locate and authenticate against a tenant's ticketing tool.
// APIToken is never JSON-encoded; storage and request decoding use their
// own explicit shapes.
type Credentials struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username,omitempty"`
	APIToken string `json:"-"`
}

// Validate checks that the base URL is an absolute http(s) URL and a token is present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: base_url is required", domain.ErrValidation)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base_url must be an absolute http(s) URL", domain.ErrValidation)
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("%w: api_token is required", domain.ErrValidation)
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Credentials) Redacted() Credentials {
	if c.APIToken != "" {
		c.APIToken = "***"
	}
	return c
}
