// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"account-gateway/internal/model"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/account-gateway/config.toml",
	"configs/config.toml",
}

// minSecretKeyBytes is the shortest HS256 key accepted.
const minSecretKeyBytes = 32

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UserStoreURL     string `kong:"help='User store base URL (overrides config).',env='USER_STORE_URL'"`
	ActivityStoreURL string `kong:"help='Activity store base URL (overrides config).',env='ACTIVITY_STORE_URL'"`
	InternalAPIKey   string `kong:"help='Shared key sent to backends (overrides config).',env='INTERNAL_API_KEY'"`
	JWTSecret        string `kong:"help='JWT signing secret (overrides config).',env='JWT_SECRET_KEY'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Backends    BackendsConfig    `toml:"backends"`
	InternalAPI InternalAPIConfig `toml:"internal_api"`
	JWT         JWTConfig         `toml:"jwt"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
	CORS         CORSConfig      `toml:"cors"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// CORSConfig lists browser origins allowed to call the gateway.
// An empty list disables the CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// UpstreamConfig holds backend connection settings shared by all targets.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// BackendsConfig holds the base URL of each backend service.
type BackendsConfig struct {
	UserStore     BackendConfig `toml:"user_store"`
	ActivityStore BackendConfig `toml:"activity_store"`
}

// BackendConfig describes one backend. An empty BaseURL is allowed and
// surfaces as a 500 at request time.
type BackendConfig struct {
	BaseURL string `toml:"base_url"`
}

// InternalAPIConfig holds the trust credential presented to backends.
type InternalAPIConfig struct {
	Header string `toml:"header"`
	Key    string `toml:"key"`
}

// JWTConfig holds session token settings.
type JWTConfig struct {
	Issuer            string `toml:"issuer"`
	Audience          string `toml:"audience"`
	SecretKey         string `toml:"secret_key"`
	ExpirationMinutes int    `toml:"expiration_minutes"`
	VerifyCacheSize   int    `toml:"verify_cache_size"` // 0 means "use default" (1024)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/account-gateway/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UserStoreURL != "" {
		c.Backends.UserStore.BaseURL = cli.UserStoreURL
	}
	if cli.ActivityStoreURL != "" {
		c.Backends.ActivityStore.BaseURL = cli.ActivityStoreURL
	}
	if cli.InternalAPIKey != "" {
		c.InternalAPI.Key = cli.InternalAPIKey
	}
	if cli.JWTSecret != "" {
		c.JWT.SecretKey = cli.JWTSecret
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	for target, raw := range c.Backends.URLs() {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("backends.%s.base_url is not a valid URL: %w", target, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backends.%s.base_url must use http or https; got %q", target, raw)
		}
		if u.Host == "" {
			return fmt.Errorf("backends.%s.base_url must include a host; got %q", target, raw)
		}
	}

	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if len(c.JWT.SecretKey) < minSecretKeyBytes {
		return fmt.Errorf("jwt.secret_key must be at least %d bytes; got %d", minSecretKeyBytes, len(c.JWT.SecretKey))
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.JWT.VerifyCacheSize < 0 {
		return fmt.Errorf("jwt.verify_cache_size must be non-negative; got %d", c.JWT.VerifyCacheSize)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/health", "/healthz", "/gateway/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. jwt.expiration_minutes is the
// exception: it is left as-is and the signer applies its own floor.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.JWT.VerifyCacheSize == 0 {
		c.JWT.VerifyCacheSize = 1024
	}
	if c.InternalAPI.Header == "" {
		c.InternalAPI.Header = "X-Internal-Api-Key"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// URLs returns the configured base URL of every backend, keyed by target.
func (b *BackendsConfig) URLs() map[model.BackendTarget]string {
	return map[model.BackendTarget]string{
		model.UserStore:     b.UserStore.BaseURL,
		model.ActivityStore: b.ActivityStore.BaseURL,
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries the JWT secret and the internal API key.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
