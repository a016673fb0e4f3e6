package config

import (
	"fmt"
	"strings"
	"time"
)

// Transport selects how an MCP server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// TrustLevel classifies an MCP server for governance derivation.
type TrustLevel string

const (
	TrustTrusted   TrustLevel = "trusted"
	TrustSandboxed TrustLevel = "sandboxed"
	TrustUntrusted TrustLevel = "untrusted"
)

// UserIDSource selects where the per-user context header value comes from.
type UserIDSource string

const (
	UserIDFromAuth UserIDSource = "auth"
	UserIDFromEnv  UserIDSource = "env"
)

// MCPServer declares one remote MCP tool server.
type MCPServer struct {
	Name      string    `yaml:"name"`
	Transport Transport `yaml:"transport"`

	// HTTP transport.
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Stdio transport.
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// Timeout bounds connection setup and each request. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	// SSEReadTimeout bounds a single SSE read on the fallback transport.
	// Default 5m.
	SSEReadTimeout time.Duration `yaml:"sse_read_timeout"`

	// AuthServer is the OAuth 2.1 authorization server base URL. When
	// set, per-user bearer tokens are resolved at discovery and call time.
	AuthServer string   `yaml:"auth_server,omitempty"`
	Scopes     []string `yaml:"scopes,omitempty"`

	TrustLevel TrustLevel `yaml:"trust_level"`

	// ToolGovernanceOverrides replaces derived governance fields per tool.
	ToolGovernanceOverrides map[string]GovernanceOverride `yaml:"tool_governance_overrides,omitempty"`

	// UserIDHeader, when set, is sent on every connection with the
	// user's identity so multi-tenant servers can scope their tool list.
	UserIDHeader string       `yaml:"user_id_header,omitempty"`
	UserIDSource UserIDSource `yaml:"user_id_source,omitempty"`

	// UserIDEnv names the environment variable consulted when
	// UserIDSource is "env".
	UserIDEnv string `yaml:"user_id_env,omitempty"`

	VerifySSL *bool `yaml:"verify_ssl,omitempty"`
}

// ApplyDefaults fills zero values on the server declaration.
func (s *MCPServer) ApplyDefaults() {
	if s.Transport == "" {
		if s.Command != "" {
			s.Transport = TransportStdio
		} else {
			s.Transport = TransportHTTP
		}
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.SSEReadTimeout == 0 {
		s.SSEReadTimeout = 5 * time.Minute
	}
	if s.TrustLevel == "" {
		s.TrustLevel = TrustUntrusted
	}
	if s.UserIDSource == "" {
		s.UserIDSource = UserIDFromAuth
	}
}

// Validate checks the server declaration. Static Authorization headers
// are rejected when an auth server is configured: per-user tokens and a
// shared static credential must never mix.
func (s *MCPServer) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("mcp server: name is required")
	}
	switch s.Transport {
	case TransportStdio:
		if s.Command == "" {
			return fmt.Errorf("mcp server %q: command is required for stdio transport", s.Name)
		}
	case TransportHTTP:
		if s.URL == "" {
			return fmt.Errorf("mcp server %q: url is required for http transport", s.Name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown transport %q", s.Name, s.Transport)
	}
	if s.AuthServer != "" {
		for k := range s.Headers {
			if strings.EqualFold(k, "Authorization") {
				return fmt.Errorf("mcp server %q: static Authorization header conflicts with auth_server", s.Name)
			}
		}
	}
	switch s.TrustLevel {
	case TrustTrusted, TrustSandboxed, TrustUntrusted:
	default:
		return fmt.Errorf("mcp server %q: unknown trust level %q", s.Name, s.TrustLevel)
	}
	switch s.UserIDSource {
	case UserIDFromAuth:
	case UserIDFromEnv:
		if s.UserIDEnv == "" {
			return fmt.Errorf("mcp server %q: user_id_env is required when user_id_source is env", s.Name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown user_id_source %q", s.Name, s.UserIDSource)
	}
	return nil
}

// VerifyTLS reports whether TLS verification is enabled (default true).
func (s *MCPServer) VerifyTLS() bool {
	return s.VerifySSL == nil || *s.VerifySSL
}
