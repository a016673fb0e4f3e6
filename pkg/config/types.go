// Package config defines the declarative configuration for the agent
// server: HTTP surface, authentication, persistence backends and the
// agent spec with its plugins and MCP servers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	APIVersion string    `yaml:"apiVersion"`
	Name       string    `yaml:"name"`
	Version    string    `yaml:"version"`
	Spec       Spec      `yaml:"spec"`
	Server     Server    `yaml:"server"`
	Logging    Logging   `yaml:"logging"`
	Auth       Auth      `yaml:"auth"`
	Persist    Persist   `yaml:"persistence"`
	OAuth      OAuthOpts `yaml:"oauth"`
}

// Spec wraps the agent definition, mirroring the declarative file layout.
type Spec struct {
	Agent Agent `yaml:"agent"`
}

// Server configures the HTTP listener.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// KeepaliveInterval is the SSE keepalive cadence during long LLM calls.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Logging configures the slog setup.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Auth selects and configures the platform authorizer.
type Auth struct {
	// Authorizer is "jwt" or "static" (static is for tests/dev only).
	Authorizer string `yaml:"authorizer"`

	JWT JWTAuth `yaml:"jwt"`
}

// JWTAuth configures JWKS-based JWT verification.
type JWTAuth struct {
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// JWKSRefresh bounds how long fetched keys are cached. Default 1h.
	JWKSRefresh time.Duration `yaml:"jwks_refresh"`
}

// Persist selects the persistence backend for tasks, MCP session state
// and OAuth tokens.
type Persist struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	Redis Redis `yaml:"redis"`

	// SessionTTL bounds MCP session-state entries. Zero means no TTL.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// AuthTTL bounds stored OAuth tokens. Zero means no TTL.
	AuthTTL time.Duration `yaml:"auth_ttl"`
}

// Redis holds connection parameters for the Redis backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OAuthOpts tunes the downstream OAuth broker.
type OAuthOpts struct {
	// RedirectURL is the callback the authorization server sends the
	// user back to after consent.
	RedirectURL string `yaml:"redirect_url"`

	// ClientID presented to downstream authorization servers.
	ClientID string `yaml:"client_id"`

	// Timeout for token endpoint calls. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// ExpirySafetyMargin treats tokens expiring within the margin as
	// already expired. Default 30s.
	ExpirySafetyMargin time.Duration `yaml:"expiry_safety_margin"`
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.KeepaliveInterval == 0 {
		c.Server.KeepaliveInterval = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Auth.Authorizer == "" {
		c.Auth.Authorizer = "jwt"
	}
	if c.Auth.JWT.JWKSRefresh == 0 {
		c.Auth.JWT.JWKSRefresh = time.Hour
	}
	if c.Persist.Backend == "" {
		c.Persist.Backend = "memory"
	}
	if c.OAuth.Timeout == 0 {
		c.OAuth.Timeout = 30 * time.Second
	}
	if c.OAuth.ExpirySafetyMargin == 0 {
		c.OAuth.ExpirySafetyMargin = 30 * time.Second
	}
	c.Spec.Agent.ApplyDefaults()
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if c.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	switch c.Persist.Backend {
	case "memory":
	case "redis":
		if c.Persist.Redis.Addr == "" {
			return fmt.Errorf("config: persistence.redis.addr is required for redis backend")
		}
	default:
		return fmt.Errorf("config: unknown persistence backend %q", c.Persist.Backend)
	}
	switch c.Auth.Authorizer {
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			return fmt.Errorf("config: auth.jwt.jwks_url is required for jwt authorizer")
		}
	case "static":
	default:
		return fmt.Errorf("config: unknown authorizer %q", c.Auth.Authorizer)
	}
	return c.Spec.Agent.Validate()
}

// BasePath returns the mount path for the agent's HTTP surface,
// "/{Name}/{Version}".
func (c *Config) BasePath() string {
	return fmt.Sprintf("/%s/%s", c.Name, c.Version)
}
