package servicedeskplus

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/Strob0t/TicketForge/internal/domain/ticket"
)

// webhookPayload is the body posted by a ServiceDesk Plus custom trigger.
// Time values are epoch milliseconds.
type webhookPayload struct {
	TenantID  string          `json:"tenant_id"`
	TicketID  json.RawMessage `json:"ticket_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Request   *request        `json:"request"`
}

type request struct {
	ID          json.RawMessage   `json:"id"`
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Status      *namedValue       `json:"status"`
	Priority    *namedValue       `json:"priority"`
	CreatedTime *timeValue        `json:"created_time"`
	UDFFields   map[string]string `json:"udf_fields"`
}

type namedValue struct {
	Name string `json:"name"`
}

type timeValue struct {
	Value        json.RawMessage `json:"value"`
	DisplayValue string          `json:"display_value"`
}

type parsedWebhook struct {
	tenantID    string
	ticketID    string
	subject     string
	description string
	priority    string
	created     time.Time
	sent        time.Time
}

func parsePayload(body []byte, s Settings) (parsedWebhook, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return parsedWebhook{}, ticket.Invalid("body", "is not a JSON object")
	}

	out := parsedWebhook{tenantID: p.TenantID, ticketID: idString(p.TicketID)}
	if ts, err := ticket.ParseRawTimestamp(p.Timestamp); err == nil {
		out.sent = ts
	}

	r := p.Request
	if r == nil {
		return out, nil
	}
	if id := idString(r.ID); id != "" {
		out.ticketID = id
	}
	out.subject = r.Subject
	out.description = htmlToText(r.Description)
	if r.Priority != nil {
		out.priority = r.Priority.Name
	}
	if r.CreatedTime != nil {
		if ts, err := ticket.ParseRawTimestamp(r.CreatedTime.Value); err == nil {
			out.created = ts
		}
	}
	if out.tenantID == "" {
		out.tenantID = r.UDFFields[s.TenantField]
	}
	return out, nil
}

func extractMetadata(p parsedWebhook, s Settings) (ticket.Metadata, error) {
	if strings.TrimSpace(p.ticketID) == "" {
		return ticket.Metadata{}, ticket.Invalid("ticket_id", "is missing (expected request.id or ticket_id)")
	}
	created := p.created
	if created.IsZero() {
		created = p.sent
	}
	if created.IsZero() {
		return ticket.Metadata{}, ticket.Invalid("created_at", "is missing or unparseable (expected request.created_time.value or timestamp)")
	}
	return ticket.Metadata{
		TenantID:    p.tenantID,
		TicketID:    p.ticketID,
		Description: ticket.DescriptionOrTitle(p.description, p.subject),
		Priority:    ticket.NormalizePriority(p.priority, s.Priorities),
		CreatedAt:   created.UTC(),
	}, nil
}

// idString accepts ids sent either as JSON strings or numbers.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// htmlToText flattens the HTML descriptions ServiceDesk Plus stores.
func htmlToText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(html.UnescapeString(s))
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li", "tr":
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}
}
