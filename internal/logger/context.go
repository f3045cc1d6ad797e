package logger

import "context"

type scopeKey struct{}

// scope is the per-request logging context. It is copied on every With*
// call, so a derived context never changes its parent.
type scope struct {
	requestID string
	toolType  string
	tenantID  string
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	s := scopeFrom(ctx)
	s.requestID = id
	return context.WithValue(ctx, scopeKey{}, s)
}

// RequestID returns the request ID, or "" when none is set.
func RequestID(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// WithWebhook returns a context tagged with the tool type and tenant a
// webhook belongs to. An empty argument keeps the current value.
func WithWebhook(ctx context.Context, toolType, tenantID string) context.Context {
	s := scopeFrom(ctx)
	if toolType != "" {
		s.toolType = toolType
	}
	if tenantID != "" {
		s.tenantID = tenantID
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// Webhook returns the tool type and tenant stored by WithWebhook.
func Webhook(ctx context.Context) (toolType, tenantID string) {
	s := scopeFrom(ctx)
	return s.toolType, s.tenantID
}
