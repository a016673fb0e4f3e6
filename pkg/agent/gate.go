package agent

import (
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

// RequiresApproval decides whether a human must approve a call before
// it executes.
//
// Unregistered native tools run without approval; unregistered MCP
// tools are gated conservatively (they should not occur after
// discovery, so an absent entry means something is off).
func RequiresApproval(cat *catalog.Catalog, call protocol.FunctionCall) bool {
	if entry := cat.Get(call.ToolID()); entry != nil {
		return entry.Governance.RequiresHitl
	}
	return catalog.IsMCPPlugin(call.PluginName)
}

// anyRequiresApproval reports whether any call in the turn is gated.
// HITL is all-or-nothing per turn: if one call needs approval, none
// execute.
func anyRequiresApproval(cat *catalog.Catalog, calls []protocol.FunctionCall) bool {
	for _, call := range calls {
		if RequiresApproval(cat, call) {
			return true
		}
	}
	return false
}
