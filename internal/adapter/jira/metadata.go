package jira

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/ticket"
)

// webhookPayload is the subset of a Jira webhook body the plugin reads.
// Jira sends "timestamp" as epoch milliseconds.
type webhookPayload struct {
	WebhookEvent string          `json:"webhookEvent"`
	Timestamp    json.RawMessage `json:"timestamp"`
	TenantID     string          `json:"tenant_id"`
	TicketID     string          `json:"ticket_id"`
	Issue        *issue          `json:"issue"`
}

type issue struct {
	ID     string                     `json:"id"`
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type namedField struct {
	Name string `json:"name"`
}

// parsedWebhook is what the plugin needs from a payload for verification
// and normalization.
type parsedWebhook struct {
	tenantID    string
	ticketID    string
	summary     string
	description string
	priority    string
	created     time.Time
	sent        time.Time // zero when absent
}

func parsePayload(body []byte, s Settings) (parsedWebhook, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return parsedWebhook{}, ticket.Invalid("body", "is not a JSON object")
	}

	out := parsedWebhook{tenantID: p.TenantID, ticketID: p.TicketID}
	if ts, err := ticket.ParseRawTimestamp(p.Timestamp); err == nil {
		out.sent = ts
	}

	if p.Issue == nil {
		return out, nil
	}
	if p.Issue.Key != "" {
		out.ticketID = p.Issue.Key
	} else if out.ticketID == "" {
		out.ticketID = p.Issue.ID
	}

	f := p.Issue.Fields
	out.summary = stringField(f["summary"])
	out.description = descriptionText(f["description"])
	var prio namedField
	if raw, ok := f["priority"]; ok && json.Unmarshal(raw, &prio) == nil {
		out.priority = prio.Name
	}
	if ts, err := ticket.ParseRawTimestamp(f["created"]); err == nil {
		out.created = ts
	}
	if out.tenantID == "" && s.TenantField != "" {
		out.tenantID = customFieldValue(f[s.TenantField])
	}
	return out, nil
}

// extractMetadata normalizes a parsed payload.
func extractMetadata(p parsedWebhook, s Settings) (ticket.Metadata, error) {
	if strings.TrimSpace(p.ticketID) == "" {
		return ticket.Metadata{}, ticket.Invalid("ticket_id", "is missing (expected issue.key or ticket_id)")
	}
	created := p.created
	if created.IsZero() {
		created = p.sent
	}
	if created.IsZero() {
		return ticket.Metadata{}, ticket.Invalid("created_at", "is missing or unparseable (expected issue.fields.created or timestamp)")
	}
	return ticket.Metadata{
		TenantID:    p.tenantID,
		TicketID:    p.ticketID,
		Description: ticket.DescriptionOrTitle(p.description, p.summary),
		Priority:    ticket.NormalizePriority(p.priority, s.Priorities),
		CreatedAt:   created.UTC(),
	}, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// customFieldValue reads a text field or a single-select option.
func customFieldValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		return stringField(raw)
	}
	var opt struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &opt) == nil {
		return opt.Value
	}
	return ""
}
