package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tfotel "github.com/Strob0t/TicketForge/internal/adapter/otel"
	"github.com/Strob0t/TicketForge/internal/config"
	"github.com/Strob0t/TicketForge/internal/middleware"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	Server      config.Server
	ServiceName string

	// AdminKeyHash returns the current bcrypt hash of the admin API key.
	AdminKeyHash func() string

	// Limiter guards webhook ingress and the admin API; nil disables it.
	Limiter *middleware.RateLimiter
}

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if opts.ServiceName != "" {
		r.Use(tfotel.HTTPMiddleware(opts.ServiceName))
	}

	r.Get("/health", h.Health)
	MountRoutes(r, h, opts)
	return r
}

// MountRoutes registers the API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouterOptions) {
	limit := func(next http.Handler) http.Handler { return next }
	if opts.Limiter != nil {
		limit = opts.Limiter.Handler
	}
	keyHash := opts.AdminKeyHash
	if keyHash == nil {
		keyHash = func() string { return "" }
	}

	// Webhooks authenticate per tenant inside the plugin.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(limit)
		r.Use(middleware.LimitBody(opts.Server.MaxBodyBytes))
		r.Post("/{toolType}", h.ReceiveWebhook)
	})

	r.Route("/api/v1/plugins", func(r chi.Router) {
		r.Use(limit)
		r.Use(middleware.AdminKey(keyHash))
		r.Get("/", h.ListPlugins)
		r.Post("/{toolType}/test-connection", h.TestConnection)
	})
}
