package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	tfhttp "github.com/Strob0t/TicketForge/internal/adapter/http"
	tfnats "github.com/Strob0t/TicketForge/internal/adapter/nats"
	"github.com/Strob0t/TicketForge/internal/adapter/natskv"
	tfotel "github.com/Strob0t/TicketForge/internal/adapter/otel"
	"github.com/Strob0t/TicketForge/internal/adapter/postgres"
	tfredis "github.com/Strob0t/TicketForge/internal/adapter/redis"
	"github.com/Strob0t/TicketForge/internal/adapter/ristretto"
	"github.com/Strob0t/TicketForge/internal/adapter/tiered"
	"github.com/Strob0t/TicketForge/internal/config"
	"github.com/Strob0t/TicketForge/internal/logger"
	"github.com/Strob0t/TicketForge/internal/middleware"
	"github.com/Strob0t/TicketForge/internal/port/audit"
	"github.com/Strob0t/TicketForge/internal/port/cache"
	"github.com/Strob0t/TicketForge/internal/port/messagequeue"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/resilience"
	"github.com/Strob0t/TicketForge/internal/secrets"
	"github.com/Strob0t/TicketForge/internal/service"
	"github.com/Strob0t/TicketForge/internal/webhookauth"
)

const adminKeyEnv = "TICKETFORGE_ADMIN_KEY_HASH"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := dispatch(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// dispatch runs "serve" (the default) or an "admin" subcommand.
func dispatch(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "admin":
			return runAdmin(args[1:])
		case "serve":
			args = args[1:]
		}
	}

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	return run(*configPath)
}

func run(configPath string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"nats", cfg.NATS.URL != "",
		"redis", cfg.Redis.Addr != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Telemetry ---

	shutdownOTel, err := tfotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := tfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := tfotel.ObserveLogDrops(closeLog.Dropped); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	var (
		queue   *tfnats.Queue
		mq      messagequeue.Queue
		emitter audit.Emitter = audit.Nop{}
	)
	if cfg.NATS.URL != "" {
		queue, err = tfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()

		mq = queue
		emitter = tfnats.NewAuditPublisher(queue, resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), metrics)
	} else {
		slog.Warn("nats disabled, accepted tickets and audit events are not published")
	}

	checks := map[string]tfhttp.HealthCheck{"postgres": store.Ping}
	if queue != nil {
		checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}

	seen, closeSeen, err := replayCache(ctx, cfg, queue, checks)
	if err != nil {
		return fmt.Errorf("replay cache: %w", err)
	}
	defer closeSeen()

	// --- Plugins ---

	// Tenant configs are read per call so deactivation and secret rotation
	// apply to the next webhook.
	verifier := webhookauth.New(store, seen, emitter,
		webhookauth.WithTolerance(cfg.Webhook.TimestampTolerance),
		webhookauth.WithMetrics(metrics),
	)
	deps := ticketplugin.Deps{
		Tenants:  store,
		Verifier: verifier,
		Audit:    emitter,
		Metrics:  metrics,
		Client:   clientPolicy(cfg.Client),
	}
	registry, err := loadPlugins(ctx, cfg.Plugins, deps)
	if err != nil {
		return err
	}

	// --- Services ---

	webhookSvc := service.NewWebhookService(registry, mq, emitter)
	pluginSvc := service.NewPluginService(registry, cfg.Client.TestConnectionTimeout, emitter)

	vault, err := secrets.NewVault(secrets.EnvLoader(config.DefaultEnvFile, adminKeyEnv))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	vault.ReloadOnSIGHUP(ctx)
	adminKeyHash := func() string {
		if h := vault.Get(adminKeyEnv); h != "" {
			return h
		}
		return cfg.Admin.KeyHash
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
	}

	// --- HTTP ---

	handlers := &tfhttp.Handlers{
		Webhooks: webhookSvc,
		Plugins:  pluginSvc,
		Checks:   checks,
	}

	opts := tfhttp.RouterOptions{
		Server:       cfg.Server,
		AdminKeyHash: adminKeyHash,
		Limiter:      limiter,
	}
	if cfg.OTel.Enabled {
		opts.ServiceName = cfg.OTel.ServiceName
	}

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           tfhttp.NewRouter(handlers, opts),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "plugins", registry.List())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if queue != nil {
		if err := queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	}
	return nil
}

// replayCache builds the seen-signature cache. The in-process L1 is always
// present; Redis, else NATS KV, backs it so replicas share replay state.
func replayCache(ctx context.Context, cfg *config.Config, queue *tfnats.Queue, checks map[string]tfhttp.HealthCheck) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Webhook.ReplayCacheMB << 20)
	if err != nil {
		return nil, nil, err
	}
	tolerance := cfg.Webhook.TimestampTolerance

	switch {
	case cfg.Redis.Addr != "":
		rc := tfredis.New(ctx, cfg.Redis)
		checks["redis"] = rc.Ping
		slog.Info("replay cache", "l2", "redis")
		return tiered.New(l1, rc, tolerance), func() {
			_ = rc.Close()
			l1.Close()
		}, nil
	case queue != nil:
		kv, err := natskv.Open(ctx, queue.JetStream(), cfg.NATS.ReplayBucket, 2*tolerance)
		if err != nil {
			l1.Close()
			return nil, nil, err
		}
		slog.Info("replay cache", "l2", "nats-kv", "bucket", cfg.NATS.ReplayBucket)
		return tiered.New(l1, kv, tolerance), l1.Close, nil
	default:
		slog.Warn("replay cache is process-local, replicas do not share replay state")
		return l1, l1.Close, nil
	}
}

func clientPolicy(c config.Client) ticketplugin.ClientPolicy {
	return ticketplugin.ClientPolicy{
		ConnectTimeout: c.ConnectTimeout,
		WriteTimeout:   c.WriteTimeout,
		PoolTimeout:    c.PoolTimeout,
		ReadTimeout:    c.ReadTimeout,
		MaxAttempts:    c.MaxAttempts,
		MaxInFlight:    c.MaxInFlight,
	}
}

// loadPlugins registers the static plugin list first, then anything found
// under the plugin directory.
func loadPlugins(ctx context.Context, cfg config.Plugins, deps ticketplugin.Deps) (*ticketplugin.Registry, error) {
	registry := ticketplugin.NewRegistry()

	if len(cfg.Static) > 0 {
		if err := registry.RegisterStatic(cfg.Static, deps); err != nil {
			return nil, fmt.Errorf("static plugins: %w", err)
		}
	}

	if cfg.Discover {
		registry.Discover(ctx, cfg.Dir, deps)
	}

	if len(registry.List()) == 0 {
		return nil, fmt.Errorf("no plugins registered (compiled in: %v)", ticketplugin.Factories())
	}
	return registry, nil
}
