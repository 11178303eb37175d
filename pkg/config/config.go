package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-pulse/pkg/apperrors"
)

// MinCredentialsKeyLength is the shortest accepted CONNECTION_CREDENTIALS_KEY.
const MinCredentialsKeyLength = 32

// Config holds all configuration for ekaya-pulse.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3450"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:""` // Empty uses the env default
	Version  string `yaml:"-"`                                        // Set at load time, not from config

	// Metadata store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Shared cache and recency store (optional)
	Redis RedisConfig `yaml:"redis"`

	// Tenant query and cache settings
	Metrics MetricsConfig `yaml:"metrics"`

	// Scheduled batch refresh
	Refresh RefreshConfig `yaml:"refresh"`

	// Key for encrypting tenant connection strings at rest.
	// At least 32 characters. Server will fail to start if this is not set.
	ConnectionCredentialsKey string `yaml:"-" env:"CONNECTION_CREDENTIALS_KEY"` // Secret - not in YAML

	// Bearer token guarding admin endpoints. Admin endpoints are disabled when empty.
	AdminToken string `yaml:"-" env:"ADMIN_TOKEN"` // Secret - not in YAML
}

// DatabaseConfig holds metadata store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_pulse"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host selects in-memory
// stores, which only work for a single instance.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"pulse:"`
}

// Enabled reports whether Redis is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// MetricsConfig holds tenant query and cache settings.
type MetricsConfig struct {
	// CacheTTL is how long computed metrics and series are served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"METRICS_CACHE_TTL" env-default:"15m"`
	// BaseFreshness is how long persisted base metrics stay servable after a refresh.
	BaseFreshness time.Duration `yaml:"base_freshness" env:"METRICS_BASE_FRESHNESS" env-default:"2h"`
	// QueryTimeout bounds each metric query.
	QueryTimeout time.Duration `yaml:"query_timeout" env:"METRICS_QUERY_TIMEOUT" env-default:"3s"`
	// ConnectTimeout bounds establishing a tenant connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"METRICS_CONNECT_TIMEOUT" env-default:"10s"`
	// CacheSize is the entry limit of the in-memory stores.
	CacheSize int `yaml:"cache_size" env:"METRICS_CACHE_SIZE" env-default:"10000"`
}

// RefreshConfig holds batch refresh settings.
type RefreshConfig struct {
	Enabled     bool          `yaml:"enabled" env:"REFRESH_ENABLED" env-default:"true"`
	Interval    time.Duration `yaml:"interval" env:"REFRESH_INTERVAL" env-default:"3h"`
	Concurrency int           `yaml:"concurrency" env:"REFRESH_CONCURRENCY" env-default:"5"`
	RunOnStart  bool          `yaml:"run_on_start" env:"REFRESH_RUN_ON_START" env-default:"false"`
}

// Load reads configuration from config.yaml (or the file named by CONFIG_FILE)
// with environment variable overrides. When the file does not exist the
// configuration comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the server cannot start with.
func (c *Config) validate() error {
	if len(c.ConnectionCredentialsKey) < MinCredentialsKeyLength {
		return apperrors.NewConfigError(fmt.Sprintf(
			"CONNECTION_CREDENTIALS_KEY must be at least %d characters", MinCredentialsKeyLength))
	}
	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return apperrors.NewConfigError("refresh.interval must be positive")
	}
	if c.Metrics.QueryTimeout <= 0 {
		return apperrors.NewConfigError("metrics.query_timeout must be positive")
	}
	if c.Metrics.ConnectTimeout <= 0 {
		return apperrors.NewConfigError("metrics.connect_timeout must be positive")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}

// ConnectionString returns a PostgreSQL connection URL for the metadata store.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}
