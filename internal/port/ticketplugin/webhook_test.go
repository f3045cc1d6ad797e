package ticketplugin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

// recordingVerifier accepts every request and keeps the last one.
type recordingVerifier struct {
	got   webhookauth.Request
	calls int
}

func (v *recordingVerifier) Verify(_ context.Context, req webhookauth.Request) bool {
	v.got = req
	v.calls++
	return true
}

func fieldsOf(body []byte) (ticketplugin.WebhookFields, error) {
	return ticketplugin.WebhookFields{TenantID: "T1", TicketID: "42", Sent: time.Unix(1700000000, 0)}, nil
}

func TestVerifyWebhook_PassesParsedFields(t *testing.T) {
	v := &recordingVerifier{}
	deps := ticketplugin.Deps{Verifier: v}

	raw := []byte(`{"tenant_id":"T1"}`)
	ok, err := deps.VerifyWebhook(context.Background(), "jira", ticketplugin.WebhookRequest{Body: raw, Signature: "sha256=ab"}, fieldsOf)
	if err != nil || !ok {
		t.Fatalf("VerifyWebhook = %v, %v", ok, err)
	}
	if v.got.ToolType != "jira" || v.got.TenantID != "T1" || v.got.TicketID != "42" || v.got.Signature != "sha256=ab" {
		t.Fatalf("unexpected request %+v", v.got)
	}
	if string(v.got.Body) != string(raw) {
		t.Fatalf("body = %s, want raw bytes", v.got.Body)
	}
	if !v.got.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %v", v.got.Timestamp)
	}
}

func TestVerifyWebhook_EncodesPayloadWithoutBody(t *testing.T) {
	v := &recordingVerifier{}
	deps := ticketplugin.Deps{Verifier: v}

	var parsed []byte
	_, err := deps.VerifyWebhook(context.Background(), "jira",
		ticketplugin.WebhookRequest{Payload: map[string]any{"tenant_id": "T1"}},
		func(body []byte) (ticketplugin.WebhookFields, error) {
			parsed = body
			return fieldsOf(body)
		})
	if err != nil {
		t.Fatal(err)
	}
	if string(parsed) != `{"tenant_id":"T1"}` || string(v.got.Body) != string(parsed) {
		t.Fatalf("parsed %s, verified %s", parsed, v.got.Body)
	}
}

func TestVerifyWebhook_ParseErrorSkipsVerifier(t *testing.T) {
	v := &recordingVerifier{}
	deps := ticketplugin.Deps{Verifier: v}
	bad := errors.New("bad payload")

	ok, err := deps.VerifyWebhook(context.Background(), "jira", ticketplugin.WebhookRequest{Body: []byte(`x`)},
		func([]byte) (ticketplugin.WebhookFields, error) { return ticketplugin.WebhookFields{}, bad })
	if ok || !errors.Is(err, bad) {
		t.Fatalf("VerifyWebhook = %v, %v; want false, bad payload", ok, err)
	}
	if v.calls != 0 {
		t.Fatalf("verifier called %d times", v.calls)
	}
}

func TestVerifyWebhook_NoVerifierRefuses(t *testing.T) {
	ok, err := ticketplugin.Deps{}.VerifyWebhook(context.Background(), "jira", ticketplugin.WebhookRequest{Body: []byte(`{}`)}, fieldsOf)
	if ok || err != nil {
		t.Fatalf("VerifyWebhook = %v, %v; want false, nil", ok, err)
	}
}

func TestEmitTicketAudit_StampsEvent(t *testing.T) {
	rec := &audit.Recorder{}
	deps := ticketplugin.Deps{Audit: rec}

	ctx := logger.WithRequestID(context.Background(), "req-3")
	deps.EmitTicketAudit(ctx, webhook.AuditTicketUpdated, "servicedeskplus", "T1", "42", "")
	deps.EmitTicketAudit(ctx, webhook.AuditTicketUpdated, "servicedeskplus", "T1", "42", "")

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	ev := events[0]
	if ev.ID == "" || ev.ID == events[1].ID {
		t.Fatalf("event IDs %q and %q must be set and distinct", ev.ID, events[1].ID)
	}
	if ev.RequestID != "req-3" || ev.ToolType != "servicedeskplus" || ev.TenantID != "T1" || ev.TicketID != "42" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.OccurredAt.IsZero() || ev.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred at = %v, want a UTC time", ev.OccurredAt)
	}
}
