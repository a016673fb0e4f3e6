package config

import "fmt"

// Agent is the declarative agent definition.
type Agent struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature,omitempty"`

	// MaxToolRounds caps LLM tool-call rounds per request. Default 25.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// LLMTimeout bounds a single LLM call. Default 120s (seconds).
	LLMTimeout int `yaml:"llm_timeout"`

	// APIBase overrides the chat-completion endpoint (OpenAI-compatible).
	APIBase string `yaml:"api_base"`

	// Plugins lists native plugins with their governance entries.
	Plugins []Plugin `yaml:"plugins,omitempty"`

	// MCPServers lists remote MCP tool servers to federate.
	MCPServers []MCPServer `yaml:"mcp_servers,omitempty"`
}

// Plugin declares a native plugin and per-tool governance.
type Plugin struct {
	ID    string       `yaml:"id"`
	Tools []PluginTool `yaml:"tools,omitempty"`
}

// PluginTool declares governance for one function of a native plugin.
type PluginTool struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Governance  Governance `yaml:"governance"`
}

// Governance holds the policy attributes of a tool.
type Governance struct {
	RequiresHitl    bool   `yaml:"requires_hitl" json:"requires_hitl"`
	Cost            string `yaml:"cost" json:"cost"`
	DataSensitivity string `yaml:"data_sensitivity" json:"data_sensitivity"`
}

// GovernanceOverride carries optional per-field overrides; only set
// fields replace derived values.
type GovernanceOverride struct {
	RequiresHitl    *bool   `yaml:"requires_hitl,omitempty" json:"requires_hitl,omitempty"`
	Cost            *string `yaml:"cost,omitempty" json:"cost,omitempty"`
	DataSensitivity *string `yaml:"data_sensitivity,omitempty" json:"data_sensitivity,omitempty"`
}

// ApplyDefaults fills zero values on the agent spec.
func (a *Agent) ApplyDefaults() {
	if a.MaxToolRounds == 0 {
		a.MaxToolRounds = 25
	}
	if a.LLMTimeout == 0 {
		a.LLMTimeout = 120
	}
	for i := range a.MCPServers {
		a.MCPServers[i].ApplyDefaults()
	}
}

// Validate checks the agent spec.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent: name is required")
	}
	if a.Model == "" {
		return fmt.Errorf("agent: model is required")
	}
	seen := make(map[string]bool, len(a.MCPServers))
	for i := range a.MCPServers {
		s := &a.MCPServers[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("agent: duplicate mcp server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
