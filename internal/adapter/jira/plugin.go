// Package jira implements a ticketplugin.Plugin for Jira Service Management
// Cloud using the REST API v3.
package jira

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Strob0t/TicketForge/internal/adapter/restclient"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
)

const toolType = "jira"

// Plugin implements ticketplugin.Plugin for Jira.
type Plugin struct {
	deps     ticketplugin.Deps
	settings Settings
}

var _ ticketplugin.Plugin = (*Plugin)(nil)

// New creates a Jira plugin.
func New(deps ticketplugin.Deps, settings Settings) *Plugin {
	return &Plugin{deps: deps, settings: settings}
}

func (p *Plugin) ToolType() string { return toolType }

// ValidateWebhook verifies the signature, tenant and freshness of a Jira webhook.
func (p *Plugin) ValidateWebhook(ctx context.Context, req ticketplugin.WebhookRequest) (bool, error) {
	return p.deps.VerifyWebhook(ctx, toolType, req, func(body []byte) (ticketplugin.WebhookFields, error) {
		parsed, err := parsePayload(body, p.settings)
		if err != nil {
			return ticketplugin.WebhookFields{}, err
		}
		return ticketplugin.WebhookFields{TenantID: parsed.tenantID, TicketID: parsed.ticketID, Sent: parsed.sent}, nil
	})
}

// ExtractMetadata normalizes a Jira webhook payload.
func (p *Plugin) ExtractMetadata(payload []byte) (ticket.Metadata, error) {
	parsed, err := parsePayload(payload, p.settings)
	if err != nil {
		return ticket.Metadata{}, err
	}
	return extractMetadata(parsed, p.settings)
}

type issueResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      namedField      `json:"status"`
		Priority    namedField      `json:"priority"`
	} `json:"fields"`
}

// GetTicket fetches an issue by id or key.
func (p *Plugin) GetTicket(ctx context.Context, tenantID, ticketID string) (*ticket.Ticket, bool, error) {
	ctx = logger.WithWebhook(ctx, toolType, tenantID)
	cfg, ok := p.tenantConfig(ctx, tenantID)
	if !ok {
		return nil, false, nil
	}
	client, err := p.newClient(cfg, 0)
	if err != nil {
		slog.ErrorContext(ctx, "jira client", "error", err)
		return nil, false, nil
	}
	defer client.Close()

	resp, err := client.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   "/rest/api/3/issue/" + url.PathEscape(ticketID),
		Query:  url.Values{"fields": {"summary,description,status,priority"}},
	})
	if err != nil {
		return nil, false, restclient.TicketFetchError(ctx, ticketID, err)
	}

	var issue issueResponse
	if err := resp.Decode(&issue); err != nil {
		slog.WarnContext(ctx, "jira get issue decode", "ticket_id", ticketID, "error", err)
		return nil, false, nil
	}
	return &ticket.Ticket{
		ID:          issue.ID,
		Key:         issue.Key,
		Title:       issue.Fields.Summary,
		Description: descriptionText(issue.Fields.Description),
		Status:      issue.Fields.Status.Name,
		Priority:    issue.Fields.Priority.Name,
		Raw:         resp.Body,
	}, true, nil
}

type commentProperty struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commentRequest struct {
	Body       adfNode           `json:"body"`
	Properties []commentProperty `json:"properties"`
}

// internalProperty keeps a Service Management comment off the customer portal.
var internalProperty = commentProperty{Key: "sd.public.comment", Value: map[string]bool{"internal": true}}

// UpdateTicket adds content as an internal comment.
func (p *Plugin) UpdateTicket(ctx context.Context, tenantID, ticketID, content string) bool {
	ctx = logger.WithWebhook(ctx, toolType, tenantID)
	cfg, ok := p.tenantConfig(ctx, tenantID)
	if !ok {
		return false
	}
	client, err := p.newClient(cfg, 0)
	if err != nil {
		slog.ErrorContext(ctx, "jira client", "error", err)
		return false
	}
	defer client.Close()

	err = client.PostJSON(ctx, "/rest/api/3/issue/"+url.PathEscape(ticketID)+"/comment", commentRequest{
		Body:       textToADF(content),
		Properties: []commentProperty{internalProperty},
	}, nil)
	if err != nil {
		slog.WarnContext(ctx, "jira add comment failed", "ticket_id", ticketID, "error", err)
		p.audit(ctx, webhook.AuditTicketUpdateErr, tenantID, ticketID, restclient.Describe(err))
		return false
	}
	p.audit(ctx, webhook.AuditTicketUpdated, tenantID, ticketID, "")
	return true
}

type myselfResponse struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// TestConnection calls GET /rest/api/3/myself once.
func (p *Plugin) TestConnection(ctx context.Context, creds tenant.Credentials) (bool, string) {
	cfg, err := ConfigFromCredentials(creds)
	if err != nil {
		return false, "invalid configuration: " + err.Error()
	}
	client, err := p.newClient(cfg, 1)
	if err != nil {
		return false, "invalid configuration: " + err.Error()
	}
	defer client.Close()

	var me myselfResponse
	if err := client.GetJSON(ctx, "/rest/api/3/myself", nil, &me); err != nil {
		slog.Info("jira connection test failed", "base_url", cfg.BaseURL, "error", err)
		return false, restclient.Describe(err)
	}
	name := me.DisplayName
	if name == "" {
		name = me.AccountID
	}
	return true, "connected as " + name
}

func (p *Plugin) tenantConfig(ctx context.Context, tenantID string) (Config, bool) {
	tc, ok := ticketplugin.ActiveTenant(ctx, p.deps.Tenants, toolType, tenantID)
	if !ok {
		return Config{}, false
	}
	cfg, err := ConfigFromCredentials(tc.Credentials)
	if err != nil {
		slog.ErrorContext(ctx, "jira tenant credentials invalid", "error", err)
		return Config{}, false
	}
	return cfg, true
}

// newClient builds a per-call client. attempts overrides the retry budget
// when > 0.
func (p *Plugin) newClient(cfg Config, attempts int) (*restclient.Client, error) {
	opts := restclient.OptionsFromPolicy(toolType, p.deps.Client, p.settings.BaseDelay)
	opts.Metrics = p.deps.Metrics
	opts.Wait = p.deps.Wait
	if attempts > 0 {
		opts.Retry.MaxAttempts = attempts
	}
	return restclient.New(cfg.BaseURL, restclient.BasicAuth(cfg.Email, cfg.APIToken), opts)
}

func (p *Plugin) audit(ctx context.Context, action webhook.AuditAction, tenantID, ticketID, reason string) {
	p.deps.EmitTicketAudit(ctx, action, toolType, tenantID, ticketID, reason)
}
