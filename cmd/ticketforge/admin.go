package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Strob0t/TicketForge/internal/adapter/postgres"
	"github.com/Strob0t/TicketForge/internal/config"
	"github.com/Strob0t/TicketForge/internal/domain/tenant"
	"github.com/Strob0t/TicketForge/internal/middleware"
	"github.com/Strob0t/TicketForge/internal/port/ticketplugin"
	"github.com/Strob0t/TicketForge/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "list-plugins":
		return runAdminListPlugins(args[1:])
	case "test-connection":
		return runAdminTestConnection(args[1:])
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "set-tenant":
		return runAdminSetTenant(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: ticketforge admin <command> [options]

Commands:
  list-plugins      List compiled-in factories and discovered plugins
  test-connection   Check ticketing tool credentials with a read-only call
  hash-key          Print the bcrypt hash for an admin API key
  migrate           Apply, roll back or show database migrations
  list-tenants      List tenant configurations
  set-tenant        Create or update a tenant configuration
  help              Show this help message

Examples:
  ticketforge admin list-plugins
  ticketforge admin test-connection --tool jira --base-url https://acme.atlassian.net --username bot@acme.com
  ticketforge admin hash-key
  ticketforge admin migrate status
  ticketforge admin migrate down --steps 1
  ticketforge admin set-tenant --tenant T1 --tool servicedeskplus --base-url https://sdp.acme.com
`)
}

// parseFlags parses args into fs and reports whether help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (help bool, err error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// adminRegistry builds the plugin registry the server would build, without
// tenant lookups. Only credential-driven calls work against it.
func adminRegistry(ctx context.Context, cfg *config.Config) (*ticketplugin.Registry, error) {
	return loadPlugins(ctx, cfg.Plugins, ticketplugin.Deps{Client: clientPolicy(cfg.Client)})
}

func loadAdminStore(ctx context.Context, configPath string) (*postgres.Store, func(), error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func runAdminListPlugins(args []string) error {
	fs := pflag.NewFlagSet("list-plugins", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	registry, err := adminRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOOL TYPE\tSTATUS")
	for _, name := range registry.List() {
		_, _ = fmt.Fprintf(w, "%s\tregistered\n", name)
	}
	for _, name := range ticketplugin.Factories() {
		if !registry.IsRegistered(name) {
			_, _ = fmt.Fprintf(w, "%s\tcompiled in\n", name)
		}
	}
	return w.Flush()
}

func runAdminTestConnection(args []string) error {
	fs := pflag.NewFlagSet("test-connection", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	tool := fs.String("tool", "", "tool type to test (required)")
	baseURL := fs.String("base-url", "", "ticketing tool base URL (required)")
	username := fs.String("username", "", "account name, for tools that use basic auth")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	if *tool == "" {
		return fmt.Errorf("--tool is required")
	}
	if *baseURL == "" {
		return fmt.Errorf("--base-url is required")
	}

	token, err := promptPassword("API token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	registry, err := adminRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	svc := service.NewPluginService(registry, cfg.Client.TestConnectionTimeout, nil)
	res, err := svc.TestConnection(ctx, *tool, tenant.Credentials{
		BaseURL:  *baseURL,
		Username: *username,
		APIToken: token,
	})
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}

	if !res.Success {
		return fmt.Errorf("%s: %s", res.ToolType, res.Message)
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", res.ToolType, res.Message)
	return nil
}

func runAdminHashKey(args []string) error {
	fs := pflag.NewFlagSet("hash-key", pflag.ContinueOnError)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	key, err := promptPassword("Admin key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	confirm, err := promptPassword("Confirm key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if key != confirm {
		return fmt.Errorf("keys do not match")
	}
	if len(key) < 16 {
		return fmt.Errorf("admin key must be at least 16 characters")
	}

	hash, err := middleware.HashAdminKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func runAdminMigrate(args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	steps := fs.Int("steps", 1, "number of migrations to roll back (down only)")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	switch action {
	case "up":
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action: %s (want up, down or status)", action)
	}

	version, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "schema version %d\n", version)
	return nil
}

func runAdminListTenants(args []string) error {
	fs := pflag.NewFlagSet("list-tenants", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	tenants, err := store.ListTenantConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TENANT\tTOOL\tACTIVE\tBASE URL\tUSERNAME")
	for i := range tenants {
		t := &tenants[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.TenantID, t.ToolType, strconv.FormatBool(t.Active), t.Credentials.BaseURL, t.Credentials.Username)
	}
	return w.Flush()
}

func runAdminSetTenant(args []string) error {
	fs := pflag.NewFlagSet("set-tenant", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultConfigFile, "path to the YAML config file")
	tenantID := fs.String("tenant", "", "tenant ID (required)")
	tool := fs.String("tool", "", "tool type (required)")
	baseURL := fs.String("base-url", "", "ticketing tool base URL (required)")
	username := fs.String("username", "", "account name, for tools that use basic auth")
	inactive := fs.Bool("inactive", false, "store the tenant as inactive")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	if *tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	if *tool == "" {
		return fmt.Errorf("--tool is required")
	}

	secret, err := promptPassword("Webhook secret: ")
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}
	token, err := promptPassword("API token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	cfg := &tenant.Config{
		TenantID:      *tenantID,
		ToolType:      *tool,
		WebhookSecret: secret,
		Active:        !*inactive,
		Credentials: tenant.Credentials{
			BaseURL:  *baseURL,
			Username: *username,
			APIToken: token,
		},
	}
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if err := cfg.Credentials.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	store, cleanup, err := loadAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.UpsertTenantConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Tenant %s saved (%s, active=%t)\n", cfg.TenantID, cfg.ToolType, cfg.Active)
	return nil
}

// promptPassword reads a secret from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // syscall.Stdin is int on unix but Handle on windows
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
