package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "ticketforge.yaml"

// DefaultEnvFile is the optional dotenv file merged into the process environment.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < .env < ENV.
// Both files are optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < .env < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadDotEnv merges a dotenv file into the process environment. Variables
// that are already set keep their value.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TICKETFORGE_PORT")
	setInt64(&cfg.Server.MaxBodyBytes, "TICKETFORGE_MAX_BODY_BYTES")
	setFloat64(&cfg.Server.RateLimit, "TICKETFORGE_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "TICKETFORGE_RATE_BURST")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TICKETFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TICKETFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TICKETFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TICKETFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TICKETFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.ReplayBucket, "TICKETFORGE_NATS_REPLAY_BUCKET")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Logging.Level, "TICKETFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TICKETFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TICKETFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "TICKETFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TICKETFORGE_BREAKER_TIMEOUT")

	// Webhook
	setDuration(&cfg.Webhook.TimestampTolerance, "TICKETFORGE_WEBHOOK_TOLERANCE")
	setInt64(&cfg.Webhook.ReplayCacheMB, "TICKETFORGE_WEBHOOK_REPLAY_CACHE_MB")

	// Outbound client
	setDuration(&cfg.Client.ConnectTimeout, "TICKETFORGE_CLIENT_CONNECT_TIMEOUT")
	setDuration(&cfg.Client.WriteTimeout, "TICKETFORGE_CLIENT_WRITE_TIMEOUT")
	setDuration(&cfg.Client.PoolTimeout, "TICKETFORGE_CLIENT_POOL_TIMEOUT")
	setDuration(&cfg.Client.ReadTimeout, "TICKETFORGE_CLIENT_READ_TIMEOUT")
	setInt(&cfg.Client.MaxAttempts, "TICKETFORGE_CLIENT_MAX_ATTEMPTS")
	setInt(&cfg.Client.MaxInFlight, "TICKETFORGE_CLIENT_MAX_IN_FLIGHT")
	setDuration(&cfg.Client.TestConnectionTimeout, "TICKETFORGE_CLIENT_TEST_TIMEOUT")

	// Plugins
	setString(&cfg.Plugins.Dir, "TICKETFORGE_PLUGINS_DIR")
	setBool(&cfg.Plugins.Discover, "TICKETFORGE_PLUGINS_DISCOVER")
	setStringSlice(&cfg.Plugins.Static, "TICKETFORGE_PLUGINS_STATIC")

	// OpenTelemetry
	setBool(&cfg.OTel.Enabled, "TICKETFORGE_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "TICKETFORGE_OTEL_INSECURE")

	setString(&cfg.Admin.KeyHash, "TICKETFORGE_ADMIN_KEY_HASH")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		return errors.New("server.max_body_bytes must be >= 1")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Webhook.TimestampTolerance <= 0 {
		return errors.New("webhook.timestamp_tolerance must be > 0")
	}
	if cfg.Client.MaxAttempts < 1 || cfg.Client.MaxAttempts > 3 {
		return errors.New("client.max_attempts must be between 1 and 3")
	}
	if cfg.Client.MaxInFlight < 1 {
		return errors.New("client.max_in_flight must be >= 1")
	}
	if cfg.Client.TestConnectionTimeout <= 0 || cfg.Client.TestConnectionTimeout > 30*time.Second {
		return errors.New("client.test_connection_timeout must be in (0, 30s]")
	}
	if !cfg.Plugins.Discover && len(cfg.Plugins.Static) == 0 {
		return errors.New("plugins: enable discovery or list static plugins")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
