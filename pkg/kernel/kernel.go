// Package kernel holds plugin instances and dispatches LLM function
// calls to them. Plugins expose flat function signatures the LLM can
// reference as "{plugin_id}-{function_name}".
package kernel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

// Function describes one callable signature of a plugin.
type Function struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object for the arguments.
	Parameters map[string]any
}

// Plugin is a named bundle of callable functions.
type Plugin interface {
	// Name is the plugin id. Must not contain dashes: the flat LLM
	// function name splits on the first dash.
	Name() string

	Functions() []Function

	// Invoke runs one function with parsed arguments.
	Invoke(ctx context.Context, function string, args map[string]any) (string, error)
}

// Kernel is an immutable-after-build plugin dispatcher. Built fresh per
// request from the user's materialized tool set.
type Kernel struct {
	plugins map[string]Plugin
}

// New creates an empty kernel.
func New() *Kernel {
	return &Kernel{plugins: make(map[string]Plugin)}
}

// AddPlugin registers a plugin instance.
func (k *Kernel) AddPlugin(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if strings.Contains(name, "-") {
		return fmt.Errorf("plugin name %q must not contain dashes", name)
	}
	if _, exists := k.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	k.plugins[name] = p
	return nil
}

// Plugin looks up a plugin by id.
func (k *Kernel) Plugin(name string) (Plugin, bool) {
	p, ok := k.plugins[name]
	return p, ok
}

// Dispatch routes a function call to its plugin.
func (k *Kernel) Dispatch(ctx context.Context, call protocol.FunctionCall) (string, error) {
	p, ok := k.plugins[call.PluginName]
	if !ok {
		return "", fmt.Errorf("unknown plugin %q", call.PluginName)
	}
	return p.Invoke(ctx, call.FunctionName, call.Arguments)
}

// ToolDefinitions flattens every plugin function into the definitions
// advertised to the LLM, in stable order.
func (k *Kernel) ToolDefinitions() []llm.ToolDefinition {
	names := make([]string, 0, len(k.plugins))
	for name := range k.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	var defs []llm.ToolDefinition
	for _, name := range names {
		p := k.plugins[name]
		for _, fn := range p.Functions() {
			params := fn.Parameters
			if params == nil {
				params = map[string]any{"type": "object"}
			}
			defs = append(defs, llm.ToolDefinition{
				Name:        name + "-" + fn.Name,
				Description: fn.Description,
				Parameters:  params,
			})
		}
	}
	return defs
}
