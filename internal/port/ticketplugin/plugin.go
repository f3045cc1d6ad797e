// Package ticketplugin defines the capability contract every ticketing-tool
// integration implements, and the registry that maps tool types to plugins.
package ticketplugin

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/tenantstore"
	"github.com/Strob0t/TicketForge/internal/resilience"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

// ErrAuthentication is returned by GetTicket when the tool rejects the
// tenant's credentials.
var ErrAuthentication = errors.New("ticketing tool rejected credentials")

// WebhookRequest is an inbound webhook as received by the HTTP layer.
type WebhookRequest struct {
	Body      []byte         // exact bytes received; signatures are computed over these
	Signature string         // "sha256=<64 lowercase hex>"
	Payload   map[string]any // decoded body; used when Body is nil
}

// Plugin is the capability contract of a ticketing-tool integration.
// Implementations hold only shared collaborators, never tenant data, and are
// safe for concurrent use.
type Plugin interface {
	// ToolType returns the registry key, e.g. "jira".
	ToolType() string

	// ValidateWebhook reports whether the request is authentic and fresh.
	// Every authentication failure yields false with a nil error; an error
	// is returned only when the payload cannot be parsed.
	ValidateWebhook(ctx context.Context, req WebhookRequest) (bool, error)

	// GetTicket fetches a ticket. found is false when the ticket does not
	// exist, the tenant is unknown or inactive, or transient failures
	// exhausted the retry budget. The only error is ErrAuthentication.
	GetTicket(ctx context.Context, tenantID, ticketID string) (t *ticket.Ticket, found bool, err error)

	// UpdateTicket adds content to the ticket as an internal note. It reports
	// false on any persistent failure.
	UpdateTicket(ctx context.Context, tenantID, ticketID, content string) bool

	// ExtractMetadata normalizes a webhook payload. It is pure.
	ExtractMetadata(payload []byte) (ticket.Metadata, error)

	// TestConnection checks credentials with a read-only call and returns a
	// human-readable result.
	TestConnection(ctx context.Context, creds tenant.Credentials) (ok bool, message string)
}

// WebhookVerifier authenticates a webhook a plugin has parsed.
// *webhookauth.Verifier implements it.
type WebhookVerifier interface {
	Verify(ctx context.Context, req webhookauth.Request) bool
}

// OutboundMetrics records calls made against ticketing tool APIs.
type OutboundMetrics interface {
	OutboundAttempt(ctx context.Context, toolType string)
	OutboundRetry(ctx context.Context, toolType string)
	OutboundFailure(ctx context.Context, toolType, kind string)
	OutboundDuration(ctx context.Context, toolType string, d time.Duration)
}

// ClientPolicy bounds the outbound HTTP calls plugins make. Zero fields
// take the client defaults.
type ClientPolicy struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	PoolTimeout    time.Duration
	ReadTimeout    time.Duration
	MaxAttempts    int
	MaxInFlight    int
}

// Deps are the shared collaborators handed to plugin factories.
type Deps struct {
	Tenants  tenantstore.Lookup
	Verifier WebhookVerifier
	Audit    audit.Emitter
	Metrics  OutboundMetrics
	Client   ClientPolicy
	// Wait overrides retry backoff sleeps; nil uses real timers.
	Wait resilience.WaitFunc
}

// AuditEmitter returns d.Audit or a no-op emitter.
func (d Deps) AuditEmitter() audit.Emitter {
	if d.Audit == nil {
		return audit.Nop{}
	}
	return d.Audit
}

// ActiveTenant resolves tenantID for an outbound call made by toolType's
// plugin. It reports false when the tenant is unknown, inactive, configured
// for another tool, or the lookup fails; the cause is logged.
func ActiveTenant(ctx context.Context, lookup tenantstore.Lookup, toolType, tenantID string) (*tenant.Config, bool) {
	if tenantID == "" || lookup == nil {
		return nil, false
	}
	cfg, err := lookup.GetTenantConfig(ctx, tenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		slog.Warn("tenant not found", "tool_type", toolType, "tenant_id", tenantID)
		return nil, false
	case err != nil:
		slog.Error("tenant lookup failed", "tool_type", toolType, "tenant_id", tenantID, "error", err)
		return nil, false
	case cfg == nil || !cfg.Active:
		slog.Warn("tenant inactive", "tool_type", toolType, "tenant_id", tenantID)
		return nil, false
	case cfg.ToolType != "" && cfg.ToolType != toolType:
		slog.Warn("tenant configured for another tool", "tool_type", toolType, "tenant_id", tenantID, "configured", cfg.ToolType)
		return nil, false
	}
	return cfg, true
}
