package webhookauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/TicketForge/internal/adapter/ristretto"
	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/cache"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

type tenantMap map[string]*tenant.Config

func (m tenantMap) GetTenantConfig(_ context.Context, id string) (*tenant.Config, error) {
	if id == "broken" {
		return nil, errors.New("db down")
	}
	cfg, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cfg, nil
}

var now = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newVerifier(t *testing.T, rec *audit.Recorder) *webhookauth.Verifier {
	t.Helper()
	seen, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(seen.Close)

	tenants := tenantMap{
		"T1":       {TenantID: "T1", ToolType: "jira", WebhookSecret: "s3cr3t", Active: true},
		"T2":       {TenantID: "T2", ToolType: "jira", WebhookSecret: "other", Active: true},
		"inactive": {TenantID: "inactive", ToolType: "jira", WebhookSecret: "s3cr3t"},
		"sdp":      {TenantID: "sdp", ToolType: "servicedeskplus", WebhookSecret: "s3cr3t", Active: true},
		"nosecret": {TenantID: "nosecret", ToolType: "jira", Active: true},
	}
	return webhookauth.New(tenants, seen, rec, webhookauth.WithClock(func() time.Time { return now }))
}

func signed(tenantID, secret string, body []byte) webhookauth.Request {
	return webhookauth.Request{
		ToolType:  "jira",
		Body:      body,
		Signature: webhook.FormatSignatureHeader(body, secret),
		TenantID:  tenantID,
		Timestamp: now.Add(-time.Minute),
	}
}

func TestVerify_Accepts(t *testing.T) {
	rec := &audit.Recorder{}
	v := newVerifier(t, rec)

	body := []byte(`{"ticket_id":"123","tenant_id":"T1"}`)
	if !v.Verify(context.Background(), signed("T1", "s3cr3t", body)) {
		t.Fatal("expected valid webhook to verify")
	}
	if got := rec.Count(webhook.AuditWebhookRejected); got != 0 {
		t.Fatalf("expected no rejections, got %d", got)
	}
}

func TestVerify_Rejections(t *testing.T) {
	body := []byte(`{"ticket_id":"123","tenant_id":"T1"}`)

	tests := []struct {
		name   string
		mutate func(r *webhookauth.Request)
		reason string
	}{
		{"other tenant secret", func(r *webhookauth.Request) {
			r.Signature = webhook.FormatSignatureHeader(body, "other")
		}, webhookauth.ReasonSignatureMismatch},
		{"tampered body", func(r *webhookauth.Request) {
			r.Body = []byte(`{"ticket_id":"124","tenant_id":"T1"}`)
		}, webhookauth.ReasonSignatureMismatch},
		{"malformed header", func(r *webhookauth.Request) {
			r.Signature = "md5=abc"
		}, webhookauth.ReasonMalformedSignature},
		{"missing tenant", func(r *webhookauth.Request) { r.TenantID = "" }, webhookauth.ReasonMissingTenant},
		{"unknown tenant", func(r *webhookauth.Request) { r.TenantID = "T9" }, webhookauth.ReasonUnknownTenant},
		{"lookup failure", func(r *webhookauth.Request) { r.TenantID = "broken" }, webhookauth.ReasonTenantLookup},
		{"inactive tenant", func(r *webhookauth.Request) { r.TenantID = "inactive" }, webhookauth.ReasonInactiveTenant},
		{"tool mismatch", func(r *webhookauth.Request) { r.TenantID = "sdp" }, webhookauth.ReasonToolMismatch},
		{"no secret", func(r *webhookauth.Request) { r.TenantID = "nosecret" }, webhookauth.ReasonNoSecret},
		{"missing timestamp", func(r *webhookauth.Request) { r.Timestamp = time.Time{} }, webhookauth.ReasonMissingTimestamp},
		{"stale timestamp", func(r *webhookauth.Request) { r.Timestamp = now.Add(-6 * time.Minute) }, webhookauth.ReasonStaleTimestamp},
		{"future timestamp", func(r *webhookauth.Request) { r.Timestamp = now.Add(6 * time.Minute) }, webhookauth.ReasonStaleTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &audit.Recorder{}
			v := newVerifier(t, rec)

			req := signed("T1", "s3cr3t", body)
			tt.mutate(&req)

			if v.Verify(context.Background(), req) {
				t.Fatal("expected rejection")
			}
			events := rec.Events()
			if len(events) != 1 || events[0].Action != webhook.AuditWebhookRejected {
				t.Fatalf("expected one rejection event, got %+v", events)
			}
			if events[0].Reason != tt.reason {
				t.Errorf("reason = %q, want %q", events[0].Reason, tt.reason)
			}
		})
	}
}

func TestVerify_ReplayRejected(t *testing.T) {
	rec := &audit.Recorder{}
	v := newVerifier(t, rec)
	ctx := context.Background()

	req := signed("T1", "s3cr3t", []byte(`{"ticket_id":"123","tenant_id":"T1"}`))
	if !v.Verify(ctx, req) {
		t.Fatal("first delivery should verify")
	}
	if v.Verify(ctx, req) {
		t.Fatal("exact re-submission should be rejected")
	}
	events := rec.Events()
	if len(events) != 1 || events[0].Reason != webhookauth.ReasonReplayed {
		t.Fatalf("expected one replay rejection, got %+v", events)
	}
}

func TestVerify_SameBodyDifferentTenantsIndependent(t *testing.T) {
	v := newVerifier(t, &audit.Recorder{})
	ctx := context.Background()
	body := []byte(`{"ticket_id":"123"}`)

	if !v.Verify(ctx, signed("T1", "s3cr3t", body)) {
		t.Fatal("T1 should verify")
	}
	if !v.Verify(ctx, signed("T2", "other", body)) {
		t.Fatal("T2 should verify with its own secret")
	}
}

func TestVerify_TenantChangesApplyToNextCall(t *testing.T) {
	seen, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(seen.Close)

	cfg := &tenant.Config{TenantID: "T1", ToolType: "jira", WebhookSecret: "s3cr3t", Active: true}
	rec := &audit.Recorder{}
	v := webhookauth.New(tenantMap{"T1": cfg}, seen, rec, webhookauth.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if !v.Verify(ctx, signed("T1", "s3cr3t", []byte(`{"ticket_id":"1","tenant_id":"T1"}`))) {
		t.Fatal("active tenant should verify")
	}

	cfg.WebhookSecret = "rotated"
	if v.Verify(ctx, signed("T1", "s3cr3t", []byte(`{"ticket_id":"2","tenant_id":"T1"}`))) {
		t.Fatal("old secret must stop verifying once rotated")
	}
	if !v.Verify(ctx, signed("T1", "rotated", []byte(`{"ticket_id":"3","tenant_id":"T1"}`))) {
		t.Fatal("rotated secret should verify on the next call")
	}

	cfg.Active = false
	if v.Verify(ctx, signed("T1", "rotated", []byte(`{"ticket_id":"4","tenant_id":"T1"}`))) {
		t.Fatal("deactivated tenant must be rejected on the next call")
	}
	events := rec.Events()
	if len(events) != 2 || events[1].Reason != webhookauth.ReasonInactiveTenant {
		t.Fatalf("expected mismatch then inactive rejections, got %+v", events)
	}
}

// refusingCache stands in for a bounded cache that cannot admit new keys.
type refusingCache struct{}

func (refusingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (refusingCache) Set(context.Context, string, []byte, time.Duration) error {
	return cache.ErrNotStored
}
func (refusingCache) Delete(context.Context, string) error { return nil }
func (refusingCache) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, cache.ErrNotStored
}

func TestVerify_RefusedReplayWriteRejects(t *testing.T) {
	rec := &audit.Recorder{}
	tenants := tenantMap{"T1": {TenantID: "T1", ToolType: "jira", WebhookSecret: "s3cr3t", Active: true}}
	v := webhookauth.New(tenants, refusingCache{}, rec, webhookauth.WithClock(func() time.Time { return now }))

	if v.Verify(context.Background(), signed("T1", "s3cr3t", []byte(`{"ticket_id":"1","tenant_id":"T1"}`))) {
		t.Fatal("expected rejection when the replay cache cannot record the signature")
	}
	events := rec.Events()
	if len(events) != 1 || events[0].Reason != webhookauth.ReasonReplayCache {
		t.Fatalf("expected replay cache rejection, got %+v", events)
	}
}

// outcomeCounter implements webhookauth.Metrics.
type outcomeCounter map[string]int

func (c outcomeCounter) WebhookValidation(_ context.Context, toolType, outcome string) {
	c[toolType+"/"+outcome]++
}

func TestVerify_RecordsOutcomesAndStampsRejections(t *testing.T) {
	rec := &audit.Recorder{}
	counts := outcomeCounter{}
	tenants := tenantMap{"T1": {TenantID: "T1", ToolType: "jira", WebhookSecret: "s3cr3t", Active: true}}
	seen, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(seen.Close)
	v := webhookauth.New(tenants, seen, rec,
		webhookauth.WithClock(func() time.Time { return now }),
		webhookauth.WithMetrics(counts),
	)

	req := signed("T1", "s3cr3t", []byte(`{"ticket_id":"9","tenant_id":"T1"}`))
	ctx := logger.WithRequestID(context.Background(), "req-7")
	v.Verify(ctx, req)
	v.Verify(ctx, req)

	if counts["jira/accepted"] != 1 || counts["jira/rejected"] != 1 {
		t.Fatalf("outcomes = %v, want one accepted and one rejected", counts)
	}
	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("expected one rejection event, got %+v", events)
	}
	ev := events[0]
	if ev.Reason != webhookauth.ReasonReplayed || ev.ID == "" || ev.RequestID != "req-7" || !ev.OccurredAt.Equal(now) {
		t.Fatalf("unexpected rejection event %+v", ev)
	}
}
