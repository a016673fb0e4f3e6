package mcp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

const (
	protocolVersion = "2025-06-18"
	clientName      = "teal-agents"
	clientVersion   = "1.0.0"

	// connectAttempts bounds retries on transient connection setup
	// failures. Tool calls themselves are single-attempt.
	connectAttempts = 2
)

// ToolInfo is the raw tool description returned by a server.
type ToolInfo struct {
	Name            string
	Description     string
	InputSchema     map[string]any
	ReadOnlyHint    *bool
	DestructiveHint *bool
}

// Conn is one ephemeral MCP connection. Callers must Close on every
// exit path.
type Conn interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// CallTool invokes one tool. isError reports a tool-level failure
	// (the text then carries the error payload).
	CallTool(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error)

	// SessionID returns the server-issued session id, if any.
	SessionID() string

	Close() error
}

// Dialer opens ephemeral connections. Swappable for tests.
type Dialer interface {
	Dial(ctx context.Context, server *config.MCPServer, headers map[string]string) (Conn, error)
}

// StdDialer dials real MCP servers over stdio or HTTP.
type StdDialer struct{}

// Dial opens a connection, performs the initialize handshake and
// returns a ready Conn. HTTP servers are tried over streamable HTTP
// first, falling back to SSE when the endpoint only supports the older
// transport.
//
// Only the handshake is bounded by server.Timeout. The transport
// itself runs on a context that lives until Conn.Close, because the
// SSE fallback ties its event stream to the context given to Start
// and would go dark the moment a dial-scoped context was canceled.
func (StdDialer) Dial(ctx context.Context, server *config.MCPServer, headers map[string]string) (Conn, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		conn, err := dialOnce(ctx, server, headers)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to connect to mcp server %s: %w", server.Name, lastErr)
}

func dialOnce(ctx context.Context, server *config.MCPServer, headers map[string]string) (Conn, error) {
	switch server.Transport {
	case config.TransportStdio:
		return dialStdio(ctx, server)
	case config.TransportHTTP:
		conn, err := dialStreamableHTTP(ctx, server, headers)
		if err == nil {
			return conn, nil
		}
		slog.Debug("streamable HTTP handshake failed, falling back to SSE",
			"server", server.Name, "error", err)
		return dialSSE(ctx, server, headers)
	default:
		return nil, fmt.Errorf("unknown transport %q", server.Transport)
	}
}

func dialStdio(ctx context.Context, server *config.MCPServer) (Conn, error) {
	env := make([]string, 0, len(server.Env))
	for k, v := range server.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(server.Command, env, server.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", server.Command, err)
	}
	return initialize(ctx, server.Timeout, c, nil)
}

func dialStreamableHTTP(ctx context.Context, server *config.MCPServer, headers map[string]string) (Conn, error) {
	opts := []transport.StreamableHTTPCOption{
		transport.WithHTTPTimeout(server.Timeout),
	}
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	if !server.VerifyTLS() {
		opts = append(opts, transport.WithHTTPBasicClient(insecureHTTPClient(server.Timeout)))
	}

	c, err := client.NewStreamableHttpClient(server.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}
	streamCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	if err := c.Start(streamCtx); err != nil {
		stop()
		c.Close()
		return nil, fmt.Errorf("failed to start streamable HTTP transport: %w", err)
	}
	return initialize(ctx, server.Timeout, c, stop)
}

func dialSSE(ctx context.Context, server *config.MCPServer, headers map[string]string) (Conn, error) {
	opts := []transport.ClientOption{}
	if len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}
	if !server.VerifyTLS() {
		// No overall timeout on the client: SSE delivers the session as
		// one long-lived response body. Reads are bounded per event.
		opts = append(opts, transport.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
				ResponseHeaderTimeout: server.SSEReadTimeout,
			},
		}))
	}

	c, err := client.NewSSEMCPClient(server.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE client: %w", err)
	}
	streamCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	if err := c.Start(streamCtx); err != nil {
		stop()
		c.Close()
		return nil, fmt.Errorf("failed to start SSE transport: %w", err)
	}
	return initialize(ctx, server.Timeout, c, stop)
}

// initialize runs the handshake under its own deadline. stop, when
// non-nil, cancels the transport's stream context and is held until
// Conn.Close.
func initialize(ctx context.Context, timeout time.Duration, c *client.Client, stop context.CancelFunc) (Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.Initialize(hctx, mcpgo.InitializeRequest{
		Params: struct {
			ProtocolVersion string                   `json:"protocolVersion"`
			Capabilities    mcpgo.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcpgo.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcpgo.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcpgo.ClientCapabilities{},
		},
	})
	if err != nil {
		if stop != nil {
			stop()
		}
		c.Close()
		return nil, fmt.Errorf("initialize handshake failed: %w", err)
	}

	slog.Debug("mcp handshake complete",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion)

	return &liveConn{client: c, stop: stop}, nil
}

func insecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

type liveConn struct {
	client *client.Client

	// stop cancels the transport's stream context. Nil for stdio.
	stop context.CancelFunc
}

func (c *liveConn) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		tools = append(tools, ToolInfo{
			Name:            tool.Name,
			Description:     tool.Description,
			InputSchema:     convertSchema(tool.InputSchema),
			ReadOnlyHint:    tool.Annotations.ReadOnlyHint,
			DestructiveHint: tool.Annotations.DestructiveHint,
		})
	}
	return tools, nil
}

// convertSchema turns the typed schema into a plain map via a JSON
// round trip.
func convertSchema(schema mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func (c *liveConn) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	result, err := c.client.CallTool(ctx, mcpgo.CallToolRequest{
		Params: struct {
			Name      string      `json:"name"`
			Arguments any         `json:"arguments,omitempty"`
			Meta      *mcpgo.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("tool call %s failed: %w", name, err)
	}

	var texts []string
	for _, content := range result.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if result.IsError && text == "" {
		text = "unknown tool error"
	}
	return text, result.IsError, nil
}

func (c *liveConn) SessionID() string {
	return c.client.GetSessionId()
}

func (c *liveConn) Close() error {
	if c.stop != nil {
		defer c.stop()
	}
	return c.client.Close()
}

var _ Conn = (*liveConn)(nil)
var _ Dialer = StdDialer{}
