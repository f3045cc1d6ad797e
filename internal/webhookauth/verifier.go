// Package webhookauth verifies inbound webhooks for every ticketing-tool
// plugin: signature header parsing, tenant resolution, HMAC comparison over
// the raw body and replay protection.
package webhookauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/TicketForge/internal/domain"
	"github.com/Strob0t/TicketForge/internal/domain/webhook"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/cache"
	"github.com/Strob0t/TicketForge/internal/port/tenantstore"
)

// DefaultTolerance is how far a webhook timestamp may drift from the local
// clock before the request is treated as a replay.
const DefaultTolerance = 5 * time.Minute

// Rejection reasons. They are logged and audited, never returned to callers.
const (
	ReasonMalformedSignature = "malformed signature header"
	ReasonMissingTenant      = "tenant id missing from payload"
	ReasonUnknownTenant      = "unknown tenant"
	ReasonTenantLookup       = "tenant lookup failed"
	ReasonInactiveTenant     = "tenant inactive"
	ReasonToolMismatch       = "tenant configured for another tool"
	ReasonNoSecret           = "tenant has no webhook secret"
	ReasonSignatureMismatch  = "signature mismatch"
	ReasonMissingTimestamp   = "timestamp missing from payload"
	ReasonStaleTimestamp     = "timestamp outside tolerance"
	ReasonReplayCache        = "replay cache unavailable"
	ReasonReplayed           = "signature already seen"
)

// Request carries what a plugin extracted from one inbound webhook.
type Request struct {
	ToolType  string
	Body      []byte // exact bytes received on the wire
	Signature string // "sha256=<hex>"
	TenantID  string
	TicketID  string    // audit only
	Timestamp time.Time // zero when the payload carries none
}

// Verifier is safe for concurrent use and holds no per-tenant state.
type Verifier struct {
	tenants   tenantstore.Lookup
	seen      cache.Cache
	audit     audit.Emitter
	metrics   Metrics
	tolerance time.Duration
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance sets the accepted clock drift for webhook timestamps.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// Metrics counts validation outcomes.
type Metrics interface {
	WebhookValidation(ctx context.Context, toolType, outcome string)
}

// WithMetrics records validation outcomes.
func WithMetrics(m Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New creates a Verifier. seen stores signatures already accepted; entries
// live for twice the tolerance so a replay cannot outlast its record.
func New(tenants tenantstore.Lookup, seen cache.Cache, emitter audit.Emitter, opts ...Option) *Verifier {
	if emitter == nil {
		emitter = audit.Nop{}
	}
	v := &Verifier{
		tenants:   tenants,
		seen:      seen,
		audit:     emitter,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Tolerance returns the configured timestamp tolerance.
func (v *Verifier) Tolerance() time.Duration { return v.tolerance }

// Verify reports whether req is an authentic, fresh webhook for an active
// tenant. Every failure yields false; the reason is logged and audited.
func (v *Verifier) Verify(ctx context.Context, req Request) bool {
	ctx = logger.WithWebhook(ctx, req.ToolType, req.TenantID)
	reason := v.check(ctx, req)
	if reason != "" {
		v.reject(ctx, req, reason)
		return false
	}
	v.record(ctx, req.ToolType, "accepted")
	return true
}

func (v *Verifier) check(ctx context.Context, req Request) string {
	env, err := webhook.ParseSignatureHeader(req.Signature, req.Body)
	if err != nil {
		return ReasonMalformedSignature
	}

	if req.TenantID == "" {
		return ReasonMissingTenant
	}
	cfg, err := v.tenants.GetTenantConfig(ctx, req.TenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ReasonUnknownTenant
	case err != nil:
		slog.ErrorContext(ctx, "tenant lookup failed", "error", err)
		return ReasonTenantLookup
	case cfg == nil:
		return ReasonUnknownTenant
	case !cfg.Active:
		return ReasonInactiveTenant
	case cfg.ToolType != "" && cfg.ToolType != req.ToolType:
		return ReasonToolMismatch
	case cfg.WebhookSecret == "":
		return ReasonNoSecret
	}

	if !env.Matches(cfg.WebhookSecret) {
		return ReasonSignatureMismatch
	}

	if req.Timestamp.IsZero() {
		return ReasonMissingTimestamp
	}
	drift := v.now().Sub(req.Timestamp)
	if drift > v.tolerance || drift < -v.tolerance {
		return ReasonStaleTimestamp
	}

	key := "webhook:" + req.ToolType + ":" + req.TenantID + ":" + env.Signature
	added, err := v.seen.Add(ctx, key, []byte{1}, 2*v.tolerance)
	if err != nil {
		slog.ErrorContext(ctx, "replay cache add failed", "error", err)
		return ReasonReplayCache
	}
	if !added {
		return ReasonReplayed
	}
	return ""
}

func (v *Verifier) reject(ctx context.Context, req Request, reason string) {
	slog.WarnContext(ctx, "webhook rejected", "ticket_id", req.TicketID, "reason", reason)
	v.audit.Emit(ctx, audit.Stamp(ctx, v.now(), webhook.AuditEvent{
		Action:   webhook.AuditWebhookRejected,
		ToolType: req.ToolType,
		TenantID: req.TenantID,
		TicketID: req.TicketID,
		Reason:   reason,
	}))
	v.record(ctx, req.ToolType, "rejected")
}

func (v *Verifier) record(ctx context.Context, toolType, outcome string) {
	if v.metrics == nil {
		return
	}
	v.metrics.WebhookValidation(ctx, toolType, outcome)
}
