// Package servicedeskplus implements a ticketplugin.Plugin for ManageEngine
// ServiceDesk Plus using the REST API v3.
package servicedeskplus

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

const (
	toolType  = "servicedeskplus"
	mediaType = "application/vnd.manageengine.sdp.v3+json"
)

// Plugin implements ticketplugin.Plugin for ServiceDesk Plus.
type Plugin struct {
	deps     ticketplugin.Deps
	settings Settings
}

var _ ticketplugin.Plugin = (*Plugin)(nil)

// New creates a ServiceDesk Plus plugin.
func New(deps ticketplugin.Deps, settings Settings) *Plugin {
	return &Plugin{deps: deps, settings: settings}
}

func (p *Plugin) ToolType() string { return toolType }

// ValidateWebhook verifies a ServiceDesk Plus custom-trigger webhook.
func (p *Plugin) ValidateWebhook(ctx context.Context, req ticketplugin.WebhookRequest) (bool, error) {
	return p.deps.VerifyWebhook(ctx, toolType, req, func(body []byte) (ticketplugin.WebhookFields, error) {
		parsed, err := parsePayload(body, p.settings)
		if err != nil {
			return ticketplugin.WebhookFields{}, err
		}
		return ticketplugin.WebhookFields{TenantID: parsed.tenantID, TicketID: parsed.ticketID, Sent: parsed.sent}, nil
	})
}

// ExtractMetadata normalizes a ServiceDesk Plus webhook payload.
func (p *Plugin) ExtractMetadata(payload []byte) (ticket.Metadata, error) {
	parsed, err := parsePayload(payload, p.settings)
	if err != nil {
		return ticket.Metadata{}, err
	}
	return extractMetadata(parsed, p.settings)
}

type requestResponse struct {
	Request request `json:"request"`
}

// GetTicket fetches a request by id.
func (p *Plugin) GetTicket(ctx context.Context, tenantID, ticketID string) (*ticket.Ticket, bool, error) {
	ctx = logger.WithWebhook(ctx, toolType, tenantID)
	cfg, ok := p.tenantConfig(ctx, tenantID)
	if !ok {
		return nil, false, nil
	}
	client, err := p.newClient(cfg, 0)
	if err != nil {
		slog.ErrorContext(ctx, "servicedeskplus client", "error", err)
		return nil, false, nil
	}
	defer client.Close()

	resp, err := client.Do(ctx, restclient.Request{
		Method: http.MethodGet,
		Path:   "/api/v3/requests/" + url.PathEscape(ticketID),
	})
	if err != nil {
		return nil, false, restclient.TicketFetchError(ctx, ticketID, err)
	}

	var out requestResponse
	if err := resp.Decode(&out); err != nil {
		slog.WarnContext(ctx, "servicedeskplus get request decode", "ticket_id", ticketID, "error", err)
		return nil, false, nil
	}
	r := out.Request
	t := &ticket.Ticket{
		ID:          idString(r.ID),
		Title:       r.Subject,
		Description: htmlToText(r.Description),
		Raw:         resp.Body,
	}
	if r.Status != nil {
		t.Status = r.Status.Name
	}
	if r.Priority != nil {
		t.Priority = r.Priority.Name
	}
	return t, true, nil
}

type noteInput struct {
	Note note `json:"note"`
}

type note struct {
	Description         string `json:"description"`
	ShowToRequester     bool   `json:"show_to_requester"`
	NotifyTechnician    bool   `json:"notify_technician"`
	MarkFirstResponse   bool   `json:"mark_first_response"`
	AddToLinkedRequests bool   `json:"add_to_linked_requests"`
}

// UpdateTicket adds content as a note hidden from the requester.
func (p *Plugin) UpdateTicket(ctx context.Context, tenantID, ticketID, content string) bool {
	ctx = logger.WithWebhook(ctx, toolType, tenantID)
	cfg, ok := p.tenantConfig(ctx, tenantID)
	if !ok {
		return false
	}
	client, err := p.newClient(cfg, 0)
	if err != nil {
		slog.ErrorContext(ctx, "servicedeskplus client", "error", err)
		return false
	}
	defer client.Close()

	input, err := json.Marshal(noteInput{Note: note{Description: content}})
	if err != nil {
		return false
	}
	err = client.PostForm(ctx, "/api/v3/requests/"+url.PathEscape(ticketID)+"/notes",
		url.Values{"input_data": {string(input)}}, nil)
	if err != nil {
		slog.WarnContext(ctx, "servicedeskplus add note failed", "ticket_id", ticketID, "error", err)
		p.audit(ctx, webhook.AuditTicketUpdateErr, tenantID, ticketID, restclient.Describe(err))
		return false
	}
	p.audit(ctx, webhook.AuditTicketUpdated, tenantID, ticketID, "")
	return true
}

// TestConnection lists a single request, the cheapest authenticated read.
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

	query := url.Values{"input_data": {`{"list_info":{"row_count":1}}`}}
	if err := client.GetJSON(ctx, "/api/v3/requests", query, nil); err != nil {
		slog.Info("servicedeskplus connection test failed", "base_url", cfg.BaseURL, "error", err)
		return false, restclient.Describe(err)
	}
	return true, "connected to " + cfg.BaseURL
}

func (p *Plugin) tenantConfig(ctx context.Context, tenantID string) (Config, bool) {
	tc, ok := ticketplugin.ActiveTenant(ctx, p.deps.Tenants, toolType, tenantID)
	if !ok {
		return Config{}, false
	}
	cfg, err := ConfigFromCredentials(tc.Credentials)
	if err != nil {
		slog.ErrorContext(ctx, "servicedeskplus tenant credentials invalid", "error", err)
		return Config{}, false
	}
	return cfg, true
}

func (p *Plugin) newClient(cfg Config, attempts int) (*restclient.Client, error) {
	opts := restclient.OptionsFromPolicy(toolType, p.deps.Client, p.settings.BaseDelay)
	opts.Metrics = p.deps.Metrics
	opts.Wait = p.deps.Wait
	opts.Headers = http.Header{"Accept": {mediaType}}
	if attempts > 0 {
		opts.Retry.MaxAttempts = attempts
	}
	return restclient.New(cfg.BaseURL, restclient.HeaderAuth("authtoken", cfg.AuthToken), opts)
}

func (p *Plugin) audit(ctx context.Context, action webhook.AuditAction, tenantID, ticketID, reason string) {
	p.deps.EmitTicketAudit(ctx, action, toolType, tenantID, ticketID, reason)
}
