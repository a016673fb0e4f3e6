// Package mcp materializes per-user tool sets from remote MCP servers
// and invokes tools over request-scoped, stateless connections.
package mcp

import (
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// ToolMeta is the serializable value of discovery: everything needed to
// advertise and govern a tool without holding a live connection.
type ToolMeta struct {
	ServerName  string         `json:"server_name"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`

	ReadOnlyHint    *bool `json:"read_only_hint,omitempty"`
	DestructiveHint *bool `json:"destructive_hint,omitempty"`

	Governance config.Governance `json:"governance"`
}

// ServerState is the per-server discovery outcome inside a session.
type ServerState struct {
	Tools []ToolMeta `json:"tools"`

	// MCPSessionID is kept when the server is stateful and issued one
	// during the handshake.
	MCPSessionID string `json:"mcp_session_id,omitempty"`
}

// SessionState holds materialized tool metadata for one (user, session).
// It never holds live connections.
type SessionState struct {
	DiscoveryComplete bool                   `json:"discovery_complete"`
	Servers           map[string]ServerState `json:"servers"`
}

// NewSessionState creates an empty session state.
func NewSessionState() *SessionState {
	return &SessionState{Servers: make(map[string]ServerState)}
}

// Clone deep-copies the state.
func (s *SessionState) Clone() *SessionState {
	clone := &SessionState{
		DiscoveryComplete: s.DiscoveryComplete,
		Servers:           make(map[string]ServerState, len(s.Servers)),
	}
	for name, server := range s.Servers {
		tools := make([]ToolMeta, len(server.Tools))
		copy(tools, server.Tools)
		clone.Servers[name] = ServerState{Tools: tools, MCPSessionID: server.MCPSessionID}
	}
	return clone
}
