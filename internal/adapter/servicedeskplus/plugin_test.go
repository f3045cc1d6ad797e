package servicedeskplus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/TicketForge/internal/adapter/ristretto"
	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/ticket"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

type tenantMap map[string]*tenant.Config

func (m tenantMap) GetTenantConfig(_ context.Context, id string) (*tenant.Config, error) {
	cfg, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cfg, nil
}

func newPlugin(t *testing.T, baseURL string) (*Plugin, *audit.Recorder) {
	t.Helper()
	if baseURL == "" {
		baseURL = "http://127.0.0.1:1"
	}
	tenants := tenantMap{
		"T1": {TenantID: "T1", ToolType: toolType, WebhookSecret: "s3cr3t", Active: true,
			Credentials: tenant.Credentials{BaseURL: baseURL, APIToken: "technician-key"}},
		"jira-tenant": {TenantID: "jira-tenant", ToolType: "jira", WebhookSecret: "s3cr3t", Active: true,
			Credentials: tenant.Credentials{BaseURL: baseURL, APIToken: "technician-key"}},
	}
	seen, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(seen.Close)

	rec := &audit.Recorder{}
	deps := ticketplugin.Deps{
		Tenants:  tenants,
		Verifier: webhookauth.New(tenants, seen, rec),
		Audit:    rec,
		Wait:     func(context.Context, time.Duration) error { return nil },
	}
	return New(deps, DefaultSettings()), rec
}

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func TestValidateWebhook(t *testing.T) {
	p, _ := newPlugin(t, "")
	ctx := context.Background()
	raw := []byte(`{"timestamp":` + millis(time.Now()) + `,"request":{"id":"55","udf_fields":{"udf_tenant_id":"T1"}}}`)

	ok, err := p.ValidateWebhook(ctx, ticketplugin.WebhookRequest{Body: raw, Signature: webhook.FormatSignatureHeader(raw, "s3cr3t")})
	if err != nil || !ok {
		t.Fatalf("expected valid, got ok=%v err=%v", ok, err)
	}

	ok, err = p.ValidateWebhook(ctx, ticketplugin.WebhookRequest{Body: raw, Signature: webhook.FormatSignatureHeader(raw, "s3cr3t")})
	if err != nil || ok {
		t.Fatalf("expected replay to be rejected, got ok=%v err=%v", ok, err)
	}

	other := []byte(`{"tenant_id":"jira-tenant","timestamp":` + millis(time.Now()) + `,"ticket_id":"1"}`)
	ok, _ = p.ValidateWebhook(ctx, ticketplugin.WebhookRequest{Body: other, Signature: webhook.FormatSignatureHeader(other, "s3cr3t")})
	if ok {
		t.Fatal("expected tenant of another tool to be rejected")
	}
}

const requestEvent = `{
  "timestamp": 1705314700000,
  "request": {
    "id": 123456,
    "subject": "Laptop will not boot",
    "description": "<div>Black screen<br>after update &amp; reboot</div>",
    "priority": {"name": "Urgent"},
    "created_time": {"value": "1705314600000", "display_value": "Jan 15, 2024 10:30 AM"},
    "udf_fields": {"udf_tenant_id": "T1"}
  }
}`

func TestExtractMetadata(t *testing.T) {
	p, _ := newPlugin(t, "")

	md, err := p.ExtractMetadata([]byte(requestEvent))
	if err != nil {
		t.Fatal(err)
	}
	if md.TicketID != "123456" || md.TenantID != "T1" {
		t.Errorf("ids = %q/%q", md.TicketID, md.TenantID)
	}
	if md.Description != "Black screen\nafter update & reboot" {
		t.Errorf("description = %q", md.Description)
	}
	if md.Priority != ticket.PriorityHigh {
		t.Errorf("priority = %q", md.Priority)
	}
	if !md.CreatedAt.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("created = %v", md.CreatedAt)
	}
}

func TestExtractMetadata_FallbacksAndErrors(t *testing.T) {
	p, _ := newPlugin(t, "")

	md, err := p.ExtractMetadata([]byte(`{"ticket_id":"9","tenant_id":"T1","timestamp":1705314600000,"request":{"subject":"Subject only","priority":{"name":"Sev 1"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if md.Description != "Subject only" || md.Priority != ticket.PriorityMedium || md.TicketID != "9" {
		t.Fatalf("unexpected metadata %+v", md)
	}

	for _, body := range []string{`nope`, `{"timestamp":1705314600000}`, `{"ticket_id":"9"}`} {
		if _, err := p.ExtractMetadata([]byte(body)); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", body, err)
		}
	}
}

func TestGetTicket(t *testing.T) {
	var gotToken, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("authtoken")
		gotAccept = r.Header.Get("Accept")
		if r.URL.Path != "/api/v3/requests/55" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"request":{"id":"55","subject":"Printer","description":"<p>Jammed</p>","status":{"name":"Open"},"priority":{"name":"Low"}},"response_status":{"status_code":2000}}`)
	}))
	defer srv.Close()
	p, _ := newPlugin(t, srv.URL)

	tk, found, err := p.GetTicket(context.Background(), "T1", "55")
	if err != nil || !found {
		t.Fatalf("expected found, got %v %v", found, err)
	}
	if tk.ID != "55" || tk.Title != "Printer" || tk.Description != "Jammed" || tk.Status != "Open" {
		t.Fatalf("unexpected ticket %+v", tk)
	}
	if gotToken != "technician-key" || gotAccept != mediaType {
		t.Fatalf("unexpected headers token=%q accept=%q", gotToken, gotAccept)
	}

	if _, found, err := p.GetTicket(context.Background(), "T1", "56"); found || err != nil {
		t.Fatalf("expected not found, got %v %v", found, err)
	}
}

func TestGetTicket_AuthFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	p, _ := newPlugin(t, srv.URL)

	_, found, err := p.GetTicket(context.Background(), "T1", "55")
	if found || !errors.Is(err, ticketplugin.ErrAuthentication) {
		t.Fatalf("expected authentication error, got found=%v err=%v", found, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestUpdateTicket_PostsPrivateNote(t *testing.T) {
	var input noteInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/requests/55/notes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal([]byte(r.PostForm.Get("input_data")), &input)
		_, _ = io.WriteString(w, `{"note":{"id":"1"},"response_status":{"status_code":2000}}`)
	}))
	defer srv.Close()
	p, rec := newPlugin(t, srv.URL)

	if !p.UpdateTicket(context.Background(), "T1", "55", "Replaced toner") {
		t.Fatal("expected success")
	}
	if input.Note.Description != "Replaced toner" || input.Note.ShowToRequester {
		t.Fatalf("unexpected note %+v", input.Note)
	}
	if rec.Count(webhook.AuditTicketUpdated) != 1 {
		t.Fatal("expected audit event")
	}
}

func TestUpdateTicket_ServiceUnavailableForever(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	p, rec := newPlugin(t, srv.URL)

	if p.UpdateTicket(context.Background(), "T1", "55", "x") {
		t.Fatal("expected failure")
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	if rec.Count(webhook.AuditTicketUpdateErr) != 1 {
		t.Fatal("expected failure audit event")
	}
}

func TestTestConnection(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authtoken") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotQuery = r.URL.Query().Get("input_data")
		_, _ = io.WriteString(w, `{"requests":[],"response_status":[{"status_code":2000}]}`)
	}))
	defer srv.Close()
	p, _ := newPlugin(t, srv.URL)
	ctx := context.Background()

	ok, msg := p.TestConnection(ctx, tenant.Credentials{BaseURL: srv.URL, APIToken: "good"})
	if !ok || !strings.HasPrefix(msg, "connected") {
		t.Fatalf("expected success, got %v %q", ok, msg)
	}
	if !strings.Contains(gotQuery, `"row_count":1`) {
		t.Fatalf("expected row_count 1, got %q", gotQuery)
	}

	ok, msg = p.TestConnection(ctx, tenant.Credentials{BaseURL: srv.URL, APIToken: "bad"})
	if ok || !strings.HasPrefix(msg, "authentication failed") {
		t.Fatalf("expected auth failure, got %v %q", ok, msg)
	}

	ok, msg = p.TestConnection(ctx, tenant.Credentials{BaseURL: "not a url", APIToken: "good"})
	if ok || !strings.HasPrefix(msg, "invalid configuration") {
		t.Fatalf("expected invalid configuration, got %v %q", ok, msg)
	}
}

func TestHTMLToText(t *testing.T) {
	tests := map[string]string{
		"":                              "",
		"plain &amp; simple":            "plain & simple",
		"<p>one</p><p>two</p>":          "one\ntwo",
		"<div>a<br/>b</div>":            "a\nb",
		"<ul><li>x</li><li>y</li></ul>": "x\ny",
	}
	for in, want := range tests {
		if got := htmlToText(in); got != want {
			t.Errorf("htmlToText(%q) = %q, want %q", in, got, want)
		}
	}
}
