// Package logger provides structured logging setup for TicketForge.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/TicketForge/internal/config"
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// When cfg.Async is set, records are handed to a buffered AsyncHandler that
// may drop info and debug records under load but keeps warnings and errors.
// The returned Closer flushes it; otherwise the Closer is a no-op.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	var closer Closer = nopCloser{}
	if cfg.Async {
		ah := NewAsyncHandler(handler, 4096, 2, slog.LevelWarn)
		handler = ah
		closer = ah
	}

	// Must wrap the async handler: its workers run without the caller's context.
	handler = &contextHandler{inner: handler}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler copies the request scope stored by WithRequestID and
// WithWebhook onto each record logged through the *Context methods. Keys
// the record already carries are left alone.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	s := scopeFrom(ctx)
	if s == (scope{}) {
		return h.inner.Handle(ctx, rec)
	}

	var hasTool, hasTenant bool
	rec.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "tool_type":
			hasTool = true
		case "tenant_id":
			hasTenant = true
		}
		return true
	})

	if s.requestID != "" {
		rec.AddAttrs(slog.String("request_id", s.requestID))
	}
	if s.toolType != "" && !hasTool {
		rec.AddAttrs(slog.String("tool_type", s.toolType))
	}
	if s.tenantID != "" && !hasTenant {
		rec.AddAttrs(slog.String("tenant_id", s.tenantID))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
