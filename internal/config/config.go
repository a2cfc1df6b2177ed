// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/tryon-edge/config.toml",
	"configs/config.toml",
}

// Placeholder values shipped in the example config.
const (
	placeholderBotToken = "YOUR_BOT_TOKEN"
	placeholderChatID   = "YOUR_CHAT_ID"
)

const (
	defaultLeadPath        = "/lead"
	defaultTelegramBaseURL = "https://api.telegram.org"
)

// reservedRoutes are served by the edge itself and never proxied.
var reservedRoutes = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Origins  []string `kong:"help='Comma-separated candidate origins in priority order (overrides config).',env='PROXY_ORIGINS'"`
	BotToken string   `kong:"help='Telegram bot token (overrides config).',env='TELEGRAM_BOT_TOKEN'"`
	ChatID   string   `kong:"help='Telegram chat id for lead notifications (overrides config).',env='TELEGRAM_CHAT_ID'"`
	LogLevel string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Lead     LeadConfig     `toml:"lead"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig describes the candidate origins and how their responses are classified.
type ProxyConfig struct {
	// Origins are base URLs tried in priority order.
	Origins []string `toml:"origins"`
	// UnavailableMarkers are body substrings that mark a >=400 response as
	// "origin structurally unavailable" rather than a plain error.
	UnavailableMarkers  []string `toml:"unavailable_markers"`
	StaticPrefix        string   `toml:"static_prefix"`
	StaticExtensions    []string `toml:"static_extensions"`
	StaticMaxAgeSeconds int      `toml:"static_max_age_seconds"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int  `toml:"timeout_seconds"`
	IdleConnections int  `toml:"idle_connections"`
	Cache           bool `toml:"cache"`
}

// LeadConfig holds the lead-capture endpoint and Telegram notification settings.
type LeadConfig struct {
	Enabled           bool     `toml:"enabled"`
	Path              string   `toml:"path"`
	BotToken          string   `toml:"bot_token"`
	ChatID            string   `toml:"chat_id"`
	APIBaseURL        string   `toml:"api_base_url"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	PricingOtherValue string   `toml:"pricing_other_value"`
	Timezone          string   `toml:"timezone"`
	AllowedOrigins    []string `toml:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File, when set, sends logs to a rotated file instead of stdout.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/tryon-edge/config.toml then configs/config.toml.
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
	if len(cli.Origins) > 0 {
		c.Proxy.Origins = cli.Origins
	}
	if cli.BotToken != "" {
		c.Lead.BotToken = cli.BotToken
	}
	if cli.ChatID != "" {
		c.Lead.ChatID = cli.ChatID
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Origins: at least one, each an absolute HTTPS URL.
	if len(c.Proxy.Origins) == 0 {
		return fmt.Errorf("proxy.origins requires at least one origin")
	}
	for i, o := range c.Proxy.Origins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil {
			return fmt.Errorf("proxy.origins[%d] is not a valid URL: %w", i, err)
		}
		if u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("proxy.origins[%d] must be an absolute HTTPS URL; got %q", i, o)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("proxy.origins[%d] must not carry a query or fragment; got %q", i, o)
		}
	}
	for i, m := range c.Proxy.UnavailableMarkers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("proxy.unavailable_markers[%d] is empty", i)
		}
	}
	if c.Proxy.StaticPrefix != "" && c.Proxy.StaticPrefix[0] != '/' {
		return fmt.Errorf("proxy.static_prefix must start with '/'; got %q", c.Proxy.StaticPrefix)
	}
	if c.Proxy.StaticMaxAgeSeconds < 0 {
		return fmt.Errorf("proxy.static_max_age_seconds must be non-negative; got %d", c.Proxy.StaticMaxAgeSeconds)
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
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if err := c.validateLead(); err != nil {
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
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits must be non-negative")
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := reservedRoutes
		if c.Lead.Enabled {
			reserved = append([]string{c.leadPath()}, reservedRoutes...)
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// validateLead checks the lead section. Credentials are a startup concern: a
// missing token or chat id must never surface as a per-submission failure.
func (c *Config) validateLead() error {
	if !c.Lead.Enabled {
		return nil
	}
	switch c.Lead.BotToken {
	case "":
		return fmt.Errorf("lead.bot_token is required when lead.enabled is true")
	case placeholderBotToken:
		return fmt.Errorf("lead.bot_token contains placeholder value; set the token issued by @BotFather")
	}
	switch c.Lead.ChatID {
	case "":
		return fmt.Errorf("lead.chat_id is required when lead.enabled is true")
	case placeholderChatID:
		return fmt.Errorf("lead.chat_id contains placeholder value; set the target chat id")
	}

	p := c.leadPath()
	if p[0] != '/' {
		return fmt.Errorf("lead.path must start with '/'; got %q", p)
	}
	for _, r := range reservedRoutes {
		if p == r || strings.HasPrefix(p, r+"/") {
			return fmt.Errorf("lead.path %q conflicts with reserved route %q", p, r)
		}
	}

	if c.Lead.APIBaseURL != "" {
		u, err := url.Parse(c.Lead.APIBaseURL)
		if err != nil {
			return fmt.Errorf("lead.api_base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("lead.api_base_url must use HTTPS; got %q", c.Lead.APIBaseURL)
		}
	}
	if c.Lead.TimeoutSeconds < 0 {
		return fmt.Errorf("lead.timeout_seconds must be non-negative; got %d", c.Lead.TimeoutSeconds)
	}
	if c.Lead.Timezone != "" {
		if _, err := time.LoadLocation(c.Lead.Timezone); err != nil {
			return fmt.Errorf("lead.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) leadPath() string {
	if c.Lead.Path == "" {
		return defaultLeadPath
	}
	return c.Lead.Path
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
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
	for i, o := range c.Proxy.Origins {
		c.Proxy.Origins[i] = strings.TrimRight(strings.TrimSpace(o), "/")
	}
	if c.Proxy.UnavailableMarkers == nil {
		c.Proxy.UnavailableMarkers = []string{"Space not found", "This Space has been paused"}
	}
	if c.Proxy.StaticPrefix == "" {
		c.Proxy.StaticPrefix = "/assets/"
	}
	if c.Proxy.StaticExtensions == nil {
		c.Proxy.StaticExtensions = []string{"js", "css", "png", "jpg", "svg", "woff", "woff2"}
	}
	if c.Proxy.StaticMaxAgeSeconds == 0 {
		c.Proxy.StaticMaxAgeSeconds = 3600
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	c.Lead.Path = c.leadPath()
	if c.Lead.APIBaseURL == "" {
		c.Lead.APIBaseURL = defaultTelegramBaseURL
	}
	if c.Lead.TimeoutSeconds == 0 {
		c.Lead.TimeoutSeconds = 15
	}
	if c.Lead.PricingOtherValue == "" {
		c.Lead.PricingOtherValue = "Other"
	}
	if c.Lead.Timezone == "" {
		c.Lead.Timezone = "UTC"
	}
	if c.Lead.AllowedOrigins == nil {
		c.Lead.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
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

// StaticMaxAge returns the cache lifetime applied to static asset responses.
func (c *ProxyConfig) StaticMaxAge() time.Duration {
	return time.Duration(c.StaticMaxAgeSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
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
