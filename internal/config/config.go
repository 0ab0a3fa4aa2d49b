// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-gateway/config.toml",
	"configs/config.toml",
}

// EnvDevelopment is the only environment in which cookies are sent without Secure.
const EnvDevelopment = "development"

// Token sinks a route may declare.
const (
	SinkSession = "session"
	SinkCookie  = "cookie"
	SinkNone    = "none"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ReservedPaths are served by the gateway itself and may not be proxied.
var ReservedPaths = []string{"/healthz", "/gateway/status"}

// forwardableFields is the closed set of downstream fields a route may project.
var forwardableFields = []string{"message", "data", "detail"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Env         string   `kong:"help='Deployment environment (overrides config).',env='APP_ENV'"`
	Host        string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel    string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	JWTSecret   string   `kong:"name='jwt-secret',help='Secret used to verify session credentials (overrides config).',env='AUTH_JWT_SECRET'"`
	SessionKeys []string `kong:"name='session-keys',help='Comma separated session cookie signing keys (overrides config).',env='SESSION_KEYS'"`
}

// Config is the top-level application configuration.
type Config struct {
	Env      string         `toml:"env"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Session  SessionConfig  `toml:"session"`
	Cookie   CookieConfig   `toml:"cookie"`
	Auth     AuthConfig     `toml:"auth"`
	Routes   []RouteConfig  `toml:"routes"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds backend connection settings shared by all routes.
type UpstreamConfig struct {
	TimeoutSeconds   int   `toml:"timeout_seconds"`
	IdleConnections  int   `toml:"idle_connections"`
	MaxResponseBytes int64 `toml:"max_response_bytes"`
}

// SessionConfig controls the session cookie and where session records live.
type SessionConfig struct {
	CookieName    string      `toml:"cookie_name"`
	Keys          []string    `toml:"keys"`
	MaxAgeSeconds int         `toml:"max_age_seconds"`
	Store         string      `toml:"store"`
	Redis         RedisConfig `toml:"redis"`
}

// RedisConfig holds the redis session store connection.
type RedisConfig struct {
	URL       string `toml:"url"`
	KeyPrefix string `toml:"key_prefix"`
}

// CookieConfig controls the persistent credential cookie.
type CookieConfig struct {
	PersistentName string `toml:"persistent_name"`
	MaxAgeSeconds  int    `toml:"max_age_seconds"`
}

// AuthConfig enables verification of session credentials before proxying.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// RouteConfig declares one proxied backend and its response policy.
type RouteConfig struct {
	Prefix         string   `toml:"prefix"`
	Target         string   `toml:"target"`
	UpstreamPrefix string   `toml:"upstream_prefix"`
	TokenSink      string   `toml:"token_sink"`
	Redirect       bool     `toml:"redirect"`
	Forward        []string `toml:"forward"`
	Public         bool     `toml:"public"`
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
// /etc/api-gateway/config.toml then configs/config.toml.
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
	if cli.Env != "" {
		c.Env = cli.Env
	}
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.JWTSecret != "" {
		c.Auth.JWTSecret = cli.JWTSecret
	}
	if len(cli.SessionKeys) > 0 {
		c.Session.Keys = cli.SessionKeys
	}
}

func (c *Config) validate() error {
	if c.Env == "" {
		return fmt.Errorf("env is required")
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
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Session.MaxAgeSeconds < 0 || c.Cookie.MaxAgeSeconds < 0 {
		return fmt.Errorf("cookie max ages must be non-negative")
	}

	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := slices.Clone(ReservedPaths)
		for _, r := range c.Routes {
			reserved = append(reserved, r.Prefix)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

func (c *Config) validateSession() error {
	if len(c.Session.Keys) == 0 {
		return fmt.Errorf("session.keys requires at least one signing key")
	}
	for i, k := range c.Session.Keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("session.keys[%d] is empty", i)
		}
	}
	switch c.Session.Store {
	case StoreMemory, "":
	case StoreRedis:
		if c.Session.Redis.URL == "" {
			return fmt.Errorf("session.redis.url is required when session.store is %q", StoreRedis)
		}
	default:
		return fmt.Errorf("session.store must be one of: memory, redis; got %q", c.Session.Store)
	}
	return nil
}

// validateRoutes checks each route in isolation. Overlap between prefixes is
// rejected when the route table is built.
func (c *Config) validateRoutes() error {
	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one [[routes]] entry is required")
	}
	for i, r := range c.Routes {
		if r.Prefix == "" || r.Prefix[0] != '/' {
			return fmt.Errorf("routes[%d].prefix must start with '/'; got %q", i, r.Prefix)
		}
		if r.Prefix != "/" && strings.HasSuffix(r.Prefix, "/") {
			return fmt.Errorf("routes[%d].prefix must not end with '/'; got %q", i, r.Prefix)
		}
		if slices.Contains(ReservedPaths, r.Prefix) {
			return fmt.Errorf("routes[%d].prefix %q is reserved", i, r.Prefix)
		}
		if r.UpstreamPrefix != "" && r.UpstreamPrefix[0] != '/' {
			return fmt.Errorf("routes[%d].upstream_prefix must start with '/'; got %q", i, r.UpstreamPrefix)
		}

		if r.Target == "" {
			return fmt.Errorf("routes[%d].target is required", i)
		}
		u, err := url.Parse(r.Target)
		if err != nil {
			return fmt.Errorf("routes[%d].target is not a valid URL: %w", i, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("routes[%d].target must be an absolute http(s) URL; got %q", i, r.Target)
		}

		switch r.TokenSink {
		case SinkSession, SinkCookie, SinkNone, "":
		default:
			return fmt.Errorf("routes[%d].token_sink must be one of: session, cookie, none; got %q", i, r.TokenSink)
		}
		for _, f := range r.Forward {
			if !slices.Contains(forwardableFields, f) {
				return fmt.Errorf("routes[%d].forward contains unknown field %q; allowed: %v", i, f, forwardableFields)
			}
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "session"
	}
	if c.Session.MaxAgeSeconds == 0 {
		c.Session.MaxAgeSeconds = 7 * 24 * 3600
	}
	if c.Session.Store == "" {
		c.Session.Store = StoreMemory
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = "gateway:session:"
	}
	if c.Cookie.PersistentName == "" {
		c.Cookie.PersistentName = "persistent"
	}
	if c.Cookie.MaxAgeSeconds == 0 {
		c.Cookie.MaxAgeSeconds = 7 * 24 * 3600
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.UpstreamPrefix == "" {
			r.UpstreamPrefix = r.Prefix
		}
		if r.TokenSink == "" {
			r.TokenSink = SinkSession
		}
		if len(r.Forward) == 0 {
			r.Forward = []string{"message"}
		}
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

// IsDevelopment reports whether cookies may be sent over plain HTTP.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file carries session signing keys and possibly the JWT secret.
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
