package agent

import (
	"fmt"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
)

// BuildKernel assembles the per-request kernel: the process-wide native
// plugins plus one MCP plugin per materialized server. Construction
// never reaches across the network; it only instantiates over the
// metadata discovery left behind.
func BuildKernel(natives []kernel.Plugin, state *mcp.SessionState, userID string, invoker kernel.Invoker) (*kernel.Kernel, error) {
	k := kernel.New()
	for _, p := range natives {
		if err := k.AddPlugin(p); err != nil {
			return nil, err
		}
	}

	if state == nil {
		return k, nil
	}

	for serverName, server := range state.Servers {
		plugin, err := kernel.NewMCPPlugin(serverName, userID, server.Tools, invoker)
		if err != nil {
			return nil, fmt.Errorf("failed to build plugin for server %s: %w", serverName, err)
		}
		if err := k.AddPlugin(plugin); err != nil {
			return nil, err
		}
	}
	return k, nil
}
