package kernel

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
)

// Invoker executes a tool on a remote MCP server for one user.
type Invoker interface {
	Invoke(ctx context.Context, serverName, userID, toolName string, args map[string]any) (string, bool, error)
}

// MCPPlugin exposes the tools materialized for one server as plugin
// functions. It holds metadata only; every invocation opens a fresh
// connection through the registry.
type MCPPlugin struct {
	serverName string
	userID     string
	tools      []mcp.ToolMeta
	invoker    Invoker
	schemas    map[string]*jsonschema.Schema
}

// NewMCPPlugin builds a plugin from discovery metadata. Argument
// schemas are compiled eagerly so malformed server schemas surface at
// build time, not call time.
func NewMCPPlugin(serverName, userID string, tools []mcp.ToolMeta, invoker Invoker) (*MCPPlugin, error) {
	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("args.json", map[string]any(tool.InputSchema)); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		schema, err := compiler.Compile("args.json")
		if err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", tool.Name, err)
		}
		schemas[tool.Name] = schema
	}

	return &MCPPlugin{
		serverName: serverName,
		userID:     userID,
		tools:      tools,
		invoker:    invoker,
		schemas:    schemas,
	}, nil
}

func (p *MCPPlugin) Name() string {
	return catalog.MCPPluginID(p.serverName)
}

// Functions prefixes each tool with the server name so identically
// named tools on different servers stay distinct in the flat LLM
// namespace.
func (p *MCPPlugin) Functions() []Function {
	fns := make([]Function, len(p.tools))
	for i, tool := range p.tools {
		params := tool.InputSchema
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		fns[i] = Function{
			Name:        p.serverName + "_" + tool.Name,
			Description: tool.Description,
			Parameters:  params,
		}
	}
	return fns
}

// Invoke validates the arguments against the discovered schema, then
// executes the tool over an ephemeral connection. A tool-level error
// comes back as an error value so the agent loop can feed it to the
// LLM as a failed tool result.
func (p *MCPPlugin) Invoke(ctx context.Context, function string, args map[string]any) (string, error) {
	toolName := strings.TrimPrefix(function, p.serverName+"_")
	if toolName == function {
		return "", fmt.Errorf("function %q does not belong to server %s", function, p.serverName)
	}

	if schema, ok := p.schemas[toolName]; ok {
		instance := map[string]any(args)
		if instance == nil {
			instance = map[string]any{}
		}
		if err := schema.Validate(any(instance)); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", toolName, err)
		}
	}

	text, isError, err := p.invoker.Invoke(ctx, p.serverName, p.userID, toolName, args)
	if err != nil {
		return "", err
	}
	if isError {
		return "", fmt.Errorf("tool %s failed: %s", toolName, text)
	}
	return text, nil
}

var _ Plugin = (*MCPPlugin)(nil)
