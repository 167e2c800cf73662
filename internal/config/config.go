// Package config loads server configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr    = "0.0.0.0:8000"
	DefaultHTTPPath    = "/mcp"
	DefaultSessionTTL  = time.Hour
	DefaultToolTimeout = 30 * time.Second
	DefaultRedisAddr   = "localhost:6379"
	DefaultKeyPrefix   = "mcp:sessions:"
	DefaultListingTTL  = 5 * time.Minute
)

// Session modes.
const (
	SessionStateful  = "stateful"
	SessionStateless = "stateless"
)

// Session stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Auth modes.
const (
	AuthNone = "none"
	AuthHMAC = "hmac"
	AuthJWKS = "jwks"
	AuthOIDC = "oidc"
)

// ErrNoUpstream is returned by Validate when neither Confluence nor Jira is
// configured.
var ErrNoUpstream = errors.New("config: neither confluence nor jira is configured")

// Config is the complete server configuration. Environment variables named
// in the env tags take precedence over the YAML file. ToolTimeout bounds each
// tools/call invocation; ListingTTL bounds how long space and project
// listings are cached, and a negative value disables that cache.
type Config struct {
	Confluence  Confluence    `yaml:"confluence"`
	Jira        Jira          `yaml:"jira"`
	HTTP        HTTP          `yaml:"http"`
	Session     Session       `yaml:"session"`
	Auth        Auth          `yaml:"auth"`
	Log         Log           `yaml:"log"`
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"MCP_TOOL_TIMEOUT"`
	ListingTTL  time.Duration `yaml:"listing_ttl" env:"MCP_LISTING_TTL"`
}

type Confluence struct {
	URL      string `yaml:"url" env:"CONFLUENCE_URL"`
	Username string `yaml:"username" env:"CONFLUENCE_USERNAME"`
	APIToken string `yaml:"api_token" env:"CONFLUENCE_API_TOKEN"`
}

type Jira struct {
	URL      string `yaml:"url" env:"JIRA_URL"`
	Username string `yaml:"username" env:"JIRA_USERNAME"`
	APIToken string `yaml:"api_token" env:"JIRA_API_TOKEN"`
}

// HTTP configures the HTTP transport. PublicURL is the externally visible
// origin, used for the protected resource metadata document when auth is
// enabled.
type HTTP struct {
	Addr      string `yaml:"addr" env:"MCP_HTTP_ADDR"`
	Path      string `yaml:"path" env:"MCP_HTTP_PATH"`
	PublicURL string `yaml:"public_url" env:"MCP_PUBLIC_URL"`
}

// Session configures HTTP sessions. SigningKey is a base64 Ed25519 seed;
// empty means a random key per process, which invalidates sessions on
// restart.
type Session struct {
	Mode           string        `yaml:"mode" env:"MCP_SESSION_MODE"`
	Store          string        `yaml:"store" env:"MCP_SESSION_STORE"`
	TTL            time.Duration `yaml:"ttl" env:"MCP_SESSION_TTL"`
	SigningKey     string        `yaml:"signing_key" env:"MCP_SESSION_SIGNING_KEY"`
	RedisAddr      string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" env:"SESSIONS_KEY_PREFIX"`
}

// Auth configures bearer-token validation for HTTP. Scopes is a
// comma-separated list of scopes every token must carry.
type Auth struct {
	Mode       string `yaml:"mode" env:"MCP_AUTH_MODE"`
	HMACSecret string `yaml:"hmac_secret" env:"MCP_AUTH_HMAC_SECRET"`
	Issuer     string `yaml:"issuer" env:"MCP_AUTH_ISSUER"`
	Audience   string `yaml:"audience" env:"MCP_AUTH_AUDIENCE"`
	JWKSURL    string `yaml:"jwks_url" env:"MCP_AUTH_JWKS_URL"`
	Scopes     string `yaml:"scopes" env:"MCP_AUTH_SCOPES"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load reads path (when non-empty), overlays the environment and applies
// defaults. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.Path == "" {
		c.HTTP.Path = DefaultHTTPPath
	}
	if c.Session.Mode == "" {
		c.Session.Mode = SessionStateful
	}
	if c.Session.Store == "" {
		c.Session.Store = StoreMemory
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = DefaultSessionTTL
	}
	if c.Session.RedisAddr == "" {
		c.Session.RedisAddr = DefaultRedisAddr
	}
	if c.Session.RedisKeyPrefix == "" {
		c.Session.RedisKeyPrefix = DefaultKeyPrefix
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthNone
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ListingTTL == 0 {
		c.ListingTTL = DefaultListingTTL
	}
	c.Session.Mode = strings.ToLower(c.Session.Mode)
	c.Session.Store = strings.ToLower(c.Session.Store)
	c.Auth.Mode = strings.ToLower(c.Auth.Mode)
}

// ConfluenceEnabled reports whether any Confluence setting is present.
func (c *Config) ConfluenceEnabled() bool {
	return c.Confluence != Confluence{}
}

// JiraEnabled reports whether any Jira setting is present.
func (c *Config) JiraEnabled() bool {
	return c.Jira != Jira{}
}

// Validate checks the settings needed by stdio mode. An upstream with some
// but not all of its settings is an error; an upstream with none is simply
// disabled.
func (c *Config) Validate() error {
	var errs []error
	if !c.ConfluenceEnabled() && !c.JiraEnabled() {
		errs = append(errs, ErrNoUpstream)
	}
	if c.ConfluenceEnabled() {
		errs = append(errs, requireAll("confluence", map[string]string{
			"CONFLUENCE_URL":       c.Confluence.URL,
			"CONFLUENCE_USERNAME":  c.Confluence.Username,
			"CONFLUENCE_API_TOKEN": c.Confluence.APIToken,
		}))
	}
	if c.JiraEnabled() {
		errs = append(errs, requireAll("jira", map[string]string{
			"JIRA_URL":       c.Jira.URL,
			"JIRA_USERNAME":  c.Jira.Username,
			"JIRA_API_TOKEN": c.Jira.APIToken,
		}))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ValidateHTTP runs Validate plus the checks specific to HTTP mode.
func (c *Config) ValidateHTTP() error {
	errs := []error{c.Validate()}
	switch c.Session.Mode {
	case SessionStateful, SessionStateless:
	default:
		errs = append(errs, fmt.Errorf("config: MCP_SESSION_MODE must be stateful or stateless, got %q", c.Session.Mode))
	}
	switch c.Session.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("config: MCP_SESSION_STORE must be memory or redis, got %q", c.Session.Store))
	}
	if c.Session.SigningKey != "" {
		if _, err := c.SigningSeed(); err != nil {
			errs = append(errs, err)
		}
	} else if c.Session.Store == StoreRedis && c.Session.Mode == SessionStateful {
		errs = append(errs, errors.New("config: MCP_SESSION_SIGNING_KEY is required with the redis session store"))
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthHMAC:
		if len(c.Auth.HMACSecret) < 32 {
			errs = append(errs, errors.New("config: MCP_AUTH_HMAC_SECRET must be at least 32 bytes"))
		}
		errs = append(errs, requireAll("auth", map[string]string{"MCP_AUTH_ISSUER": c.Auth.Issuer, "MCP_AUTH_AUDIENCE": c.Auth.Audience}))
	case AuthJWKS:
		errs = append(errs, requireAll("auth", map[string]string{"MCP_AUTH_ISSUER": c.Auth.Issuer, "MCP_AUTH_AUDIENCE": c.Auth.Audience, "MCP_AUTH_JWKS_URL": c.Auth.JWKSURL}))
	case AuthOIDC:
		errs = append(errs, requireAll("auth", map[string]string{"MCP_AUTH_ISSUER": c.Auth.Issuer, "MCP_AUTH_AUDIENCE": c.Auth.Audience}))
	default:
		errs = append(errs, fmt.Errorf("config: MCP_AUTH_MODE must be none, hmac, jwks or oidc, got %q", c.Auth.Mode))
	}
	return errors.Join(errs...)
}

// SigningSeed decodes the session signing key. It returns nil when none is
// configured.
func (c *Config) SigningSeed() ([]byte, error) {
	if c.Session.SigningKey == "" {
		return nil, nil
	}
	seed, err := base64.StdEncoding.DecodeString(c.Session.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("config: MCP_SESSION_SIGNING_KEY is not valid base64: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("config: MCP_SESSION_SIGNING_KEY must decode to 32 bytes, got %d", len(seed))
	}
	return seed, nil
}

// LogLevel parses Log.Level; empty means info.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// AuthScopes splits Auth.Scopes on commas and whitespace.
func (c *Config) AuthScopes() []string {
	return strings.FieldsFunc(c.Auth.Scopes, func(r rune) bool { return r == ',' || r == ' ' })
}

func requireAll(section string, vals map[string]string) error {
	var missing []string
	for _, k := range slices.Sorted(maps.Keys(vals)) {
		if vals[k] == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s is partially configured; missing %s", section, strings.Join(missing, ", "))
}
