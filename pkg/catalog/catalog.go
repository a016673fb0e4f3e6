// Package catalog is the single source of truth for tool governance.
// Native tools are registered from configuration at startup; MCP tools
// are added dynamically as discovery materializes them per user.
package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// MCPPluginPrefix marks plugin ids minted for MCP servers.
const MCPPluginPrefix = "mcp_"

// Entry is one governed tool. ToolID is "{plugin_id}-{function_name}"
// and unique across the catalog.
type Entry struct {
	ToolID      string            `json:"tool_id"`
	PluginID    string            `json:"plugin_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Governance  config.Governance `json:"governance"`

	// AuthServer is set for MCP tools whose server brokers OAuth.
	AuthServer string `json:"auth_server,omitempty"`
}

// ToolID builds the catalog key for a plugin function.
func ToolID(pluginID, functionName string) string {
	return pluginID + "-" + functionName
}

// MCPPluginID builds the plugin id minted for an MCP server. Server
// names must not contain dashes so the flat tool id splits cleanly.
func MCPPluginID(serverName string) string {
	return MCPPluginPrefix + serverName
}

// IsMCPPlugin reports whether a plugin id belongs to an MCP server.
func IsMCPPlugin(pluginID string) bool {
	return strings.HasPrefix(pluginID, MCPPluginPrefix)
}

// Catalog is a mostly-read concurrent tool registry.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Entry)}
}

// NewFromConfig creates a catalog pre-populated with the agent's native
// plugin tools.
func NewFromConfig(agent *config.Agent) (*Catalog, error) {
	c := New()
	for _, plugin := range agent.Plugins {
		if strings.Contains(plugin.ID, "-") {
			return nil, fmt.Errorf("plugin id %q must not contain dashes", plugin.ID)
		}
		for _, tool := range plugin.Tools {
			c.Register(&Entry{
				ToolID:      ToolID(plugin.ID, tool.Name),
				PluginID:    plugin.ID,
				Name:        tool.Name,
				Description: tool.Description,
				Governance:  tool.Governance,
			})
		}
	}
	return c, nil
}

// Get returns the entry for a tool id, or nil if unregistered.
func (c *Catalog) Get(toolID string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[toolID]
	if !ok {
		return nil
	}
	clone := *entry
	return &clone
}

// Register adds or replaces an entry. Duplicate tool ids replace the
// prior entry so re-discovery across session boundaries picks up
// server-side changes.
func (c *Catalog) Register(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *entry
	c.entries[entry.ToolID] = &clone
}

// Len reports the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
