package mcp

import (
	"context"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// TestStdDialer_SSEFallbackOutlivesDial dials an SSE-only server, so
// the streamable HTTP attempt fails and the SSE fallback engages. The
// event stream must stay alive after Dial returns, and must survive
// the handshake deadline expiring, or every later request on the
// connection would fail.
func TestStdDialer_SSEFallbackOutlivesDial(t *testing.T) {
	srv := server.NewMCPServer("echo", "0.1.0", server.WithToolCapabilities(false))
	srv.AddTool(
		mcpgo.NewTool("echo_sum", mcpgo.WithDescription("Adds two numbers")),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("4"), nil
		},
	)
	ts := server.NewTestServer(srv)
	defer ts.Close()

	cfg := config.MCPServer{
		Name:      "echo",
		Transport: config.TransportHTTP,
		URL:       ts.URL + "/sse",
	}
	cfg.ApplyDefaults()
	cfg.Timeout = 500 * time.Millisecond

	conn, err := StdDialer{}.Dial(context.Background(), &cfg, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Well past the handshake deadline.
	time.Sleep(750 * time.Millisecond)

	tools, err := conn.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo_sum", tools[0].Name)

	text, isErr, err := conn.CallTool(context.Background(), "echo_sum", map[string]any{"a": 2, "b": 2})
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "4", text)
}
