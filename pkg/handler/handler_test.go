package handler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// scriptedProvider replays canned completions across handler calls.
type scriptedProvider struct {
	turns []llm.Completion
	calls int
}

func (p *scriptedProvider) next() (*llm.Completion, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("no scripted turn left")
	}
	turn := p.turns[p.calls]
	p.calls++
	return &turn, nil
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	return p.next()
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	turn, err := p.next()
	if err != nil {
		return nil, err
	}
	out := make(chan llm.StreamChunk, 8)
	go func() {
		defer close(out)
		if turn.Text != "" {
			out <- llm.StreamChunk{Type: llm.ChunkText, Text: turn.Text}
		}
		for i := range turn.ToolCalls {
			out <- llm.StreamChunk{Type: llm.ChunkToolCall, ToolCall: &turn.ToolCalls[i]}
		}
		out <- llm.StreamChunk{Type: llm.ChunkDone, Usage: turn.Usage}
	}()
	return out, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }

// erroringProvider fails every call.
type erroringProvider struct{}

func (erroringProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	return nil, errors.New("model overloaded")
}

func (erroringProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("model overloaded")
}

func (erroringProvider) ModelName() string { return "broken" }

type fakeConn struct {
	tools []mcp.ToolInfo
	calls atomic.Int32
}

func (c *fakeConn) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) { return c.tools, nil }

func (c *fakeConn) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	c.calls.Add(1)
	return "3 results", false, nil
}

func (c *fakeConn) SessionID() string { return "" }
func (c *fakeConn) Close() error      { return nil }

type fakeDialer struct {
	conn  *fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, server *config.MCPServer, headers map[string]string) (mcp.Conn, error) {
	d.dials.Add(1)
	return d.conn, nil
}

type testEnv struct {
	handler  *Handler
	store    *task.InMemoryStore
	provider llm.Provider
	executed *atomic.Int32
}

func testConfig(servers []config.MCPServer) *config.Config {
	cfg := &config.Config{
		Name:    "weather",
		Version: "1.0.0",
		Spec: config.Spec{Agent: config.Agent{
			Name:         "weather",
			Model:        "gpt-4o",
			SystemPrompt: "You are a weather assistant.",
			MCPServers:   servers,
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}

// newEnv wires a handler over in-memory stores, a scripted provider and
// two native plugins: math.add (ungated) and admin.delete_user (gated).
func newEnv(t *testing.T, provider llm.Provider, servers []config.MCPServer, dialer mcp.Dialer) *testEnv {
	t.Helper()

	cfg := testConfig(servers)
	store := task.NewInMemoryStore()
	cat := catalog.New()
	cat.Register(&catalog.Entry{
		ToolID:     "math-add",
		PluginID:   "math",
		Name:       "add",
		Governance: config.Governance{RequiresHitl: false},
	})
	cat.Register(&catalog.Entry{
		ToolID:     "admin-delete_user",
		PluginID:   "admin",
		Name:       "delete_user",
		Governance: config.Governance{RequiresHitl: true, Cost: "high", DataSensitivity: "sensitive"},
	})

	var executed atomic.Int32
	math := kernel.NewNativePlugin("math")
	math.AddFunction("add", "Add two numbers", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "5", nil
	})
	admin := kernel.NewNativePlugin("admin")
	admin.AddFunction("delete_user", "Delete a user account", nil, func(ctx context.Context, args map[string]any) (string, error) {
		executed.Add(1)
		return "deleted", nil
	})

	resolver := auth.NewResolver(auth.NewInMemoryStorage(), config.OAuthOpts{
		ClientID:           "teal-client",
		RedirectURL:        "http://localhost:8000/callback",
		Timeout:            time.Second,
		ExpirySafetyMargin: time.Second,
	})

	if dialer == nil {
		dialer = &fakeDialer{conn: &fakeConn{}}
	}
	registry := mcp.NewRegistry(mcp.NewInMemorySessionStore(), resolver, cat, dialer, servers)

	h := New(cfg, store, registry, resolver, provider, []kernel.Plugin{math, admin}, cat)
	return &testEnv{handler: h, store: store, provider: provider, executed: &executed}
}

func userMsg(text string) protocol.UserMessage {
	return protocol.UserMessage{Items: []protocol.MultiModalItem{protocol.TextItem(text)}}
}

func deleteCall(id string) protocol.FunctionCall {
	return protocol.FunctionCall{
		ID:           id,
		PluginName:   "admin",
		FunctionName: "delete_user",
		Arguments:    map[string]any{"user": "bob"},
	}
}

func TestInvoke_SimpleCompletion(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{Text: "Sunny, 22C.", Usage: protocol.TokenUsage{TotalTokens: 12}},
	}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("weather in Paris?"))
	require.NoError(t, err)

	agentResp, ok := resp.(protocol.AgentResponse)
	require.True(t, ok, "expected AgentResponse, got %T", resp)
	assert.Equal(t, "Sunny, 22C.", agentResp.Output)
	assert.Equal(t, string(task.StatusCompleted), agentResp.Status)
	assert.NotEmpty(t, agentResp.SessionID)
	assert.NotEmpty(t, agentResp.TaskID)
	assert.NotEmpty(t, agentResp.RequestID)
	assert.Equal(t, 12, agentResp.TokenUsage.TotalTokens)

	stored, err := env.store.Get(context.Background(), agentResp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, stored.Status)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, task.RoleUser, stored.Items[0].Role)
	assert.Equal(t, task.RoleAssistant, stored.Items[1].Role)

	taskID, err := env.store.ResolveRequest(context.Background(), agentResp.RequestID)
	require.NoError(t, err)
	assert.Equal(t, agentResp.TaskID, taskID)
}

func TestInvoke_MultiTurnContinuesTask(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{Text: "Sunny."},
		{Text: "Tomorrow: rain."},
	}}, nil, nil)

	first, err := env.handler.Invoke(context.Background(), "alice", userMsg("today?"))
	require.NoError(t, err)
	firstResp := first.(protocol.AgentResponse)

	second, err := env.handler.Invoke(context.Background(), "alice", protocol.UserMessage{
		SessionID: firstResp.SessionID,
		TaskID:    firstResp.TaskID,
		Items:     []protocol.MultiModalItem{protocol.TextItem("and tomorrow?")},
	})
	require.NoError(t, err)
	secondResp := second.(protocol.AgentResponse)

	assert.Equal(t, firstResp.TaskID, secondResp.TaskID)
	assert.NotEqual(t, firstResp.RequestID, secondResp.RequestID)

	stored, err := env.store.Get(context.Background(), firstResp.TaskID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 4)
}

func TestInvoke_OwnershipEnforced(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{{Text: "hi"}}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("hello"))
	require.NoError(t, err)
	taskID := resp.(protocol.AgentResponse).TaskID

	_, err = env.handler.Invoke(context.Background(), "mallory", protocol.UserMessage{
		TaskID: taskID,
		Items:  []protocol.MultiModalItem{protocol.TextItem("gimme")},
	})
	assert.ErrorIs(t, err, task.ErrNotAuthorized)

	_, err = env.handler.Invoke(context.Background(), "alice", protocol.UserMessage{
		TaskID: "no-such-task",
		Items:  []protocol.MultiModalItem{protocol.TextItem("hi")},
	})
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestInvoke_HitlPause(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{deleteCall("call_1")}},
	}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("delete bob"))
	require.NoError(t, err)

	hitl, ok := resp.(protocol.HitlResponse)
	require.True(t, ok, "expected HitlResponse, got %T", resp)
	require.Len(t, hitl.ToolCalls, 1)
	assert.Equal(t, "call_1", hitl.ToolCalls[0].ID)
	assert.Equal(t, "/weather/1.0.0/resume/"+hitl.RequestID, hitl.ApprovalURL)
	assert.Equal(t, hitl.ApprovalURL, hitl.RejectionURL)
	assert.Equal(t, int32(0), env.executed.Load())

	stored, err := env.store.Get(context.Background(), hitl.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPaused, stored.Status)
	assert.Equal(t, hitl.RequestID, stored.PendingRequestID)
	require.Len(t, stored.PendingToolCalls, 1)

	// The announcement item carries the pending call id.
	var announced bool
	for _, item := range stored.Items {
		for _, call := range item.ToolCalls {
			if call.ID == "call_1" {
				announced = true
			}
		}
	}
	assert.True(t, announced)
}

func TestResume_Reject(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{deleteCall("call_1")}},
	}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("delete bob"))
	require.NoError(t, err)
	hitl := resp.(protocol.HitlResponse)

	resumed, err := env.handler.Resume(context.Background(), "alice", hitl.RequestID, protocol.DecisionReject)
	require.NoError(t, err)

	rejected, ok := resumed.(protocol.RejectedToolResponse)
	require.True(t, ok, "expected RejectedToolResponse, got %T", resumed)
	assert.Equal(t, string(task.StatusCanceled), rejected.Status)
	assert.Equal(t, int32(0), env.executed.Load())

	stored, err := env.store.Get(context.Background(), hitl.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, stored.Status)
	assert.Empty(t, stored.PendingToolCalls)

	last := stored.Items[len(stored.Items)-1]
	assert.Equal(t, task.RoleTool, last.Role)
	assert.True(t, last.IsError)
}

func TestResume_ApproveExecutesOnce(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{deleteCall("call_1")}},
		{Text: "Bob is gone."},
	}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("delete bob"))
	require.NoError(t, err)
	hitl := resp.(protocol.HitlResponse)

	resumed, err := env.handler.Resume(context.Background(), "alice", hitl.RequestID, protocol.DecisionApprove)
	require.NoError(t, err)

	agentResp, ok := resumed.(protocol.AgentResponse)
	require.True(t, ok, "expected AgentResponse, got %T", resumed)
	assert.Equal(t, "Bob is gone.", agentResp.Output)
	assert.Equal(t, int32(1), env.executed.Load())

	// Replaying the resume is a no-op returning the current state.
	replay, err := env.handler.Resume(context.Background(), "alice", hitl.RequestID, protocol.DecisionApprove)
	require.NoError(t, err)
	replayResp := replay.(protocol.AgentResponse)
	assert.Equal(t, "Bob is gone.", replayResp.Output)
	assert.Equal(t, string(task.StatusCompleted), replayResp.Status)
	assert.Equal(t, int32(1), env.executed.Load())
}

func TestResume_Errors(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{deleteCall("call_1")}},
	}}, nil, nil)

	_, err := env.handler.Resume(context.Background(), "alice", "nope", "maybe")
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = env.handler.Resume(context.Background(), "alice", "unknown-request", protocol.DecisionApprove)
	assert.ErrorIs(t, err, task.ErrRequestNotFound)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("delete bob"))
	require.NoError(t, err)
	hitl := resp.(protocol.HitlResponse)

	_, err = env.handler.Resume(context.Background(), "mallory", hitl.RequestID, protocol.DecisionApprove)
	assert.ErrorIs(t, err, task.ErrNotAuthorized)
	assert.Equal(t, int32(0), env.executed.Load())
}

func TestInvoke_LLMFailureMapsToUpstream(t *testing.T) {
	env := newEnv(t, erroringProvider{}, nil, nil)

	_, err := env.handler.Invoke(context.Background(), "alice", userMsg("hello"))
	require.ErrorIs(t, err, ErrUpstream)
}

func TestInvokeStream_EmitsFragmentsAndTerminal(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{Text: "Sunny, 22C."},
	}}, nil, nil)

	var partials []protocol.PartialResponse
	resp, err := env.handler.InvokeStream(context.Background(), "alice", userMsg("weather?"), func(p protocol.PartialResponse) error {
		partials = append(partials, p)
		return nil
	})
	require.NoError(t, err)

	agentResp := resp.(protocol.AgentResponse)
	require.NotEmpty(t, partials)
	var text string
	for _, p := range partials {
		assert.Equal(t, agentResp.TaskID, p.TaskID)
		assert.Equal(t, agentResp.RequestID, p.RequestID)
		assert.False(t, p.Done)
		text += p.OutputPartial
	}
	assert.Equal(t, "Sunny, 22C.", text)
}

func TestInvoke_AuthChallenge(t *testing.T) {
	servers := []config.MCPServer{{
		Name:       "github",
		Transport:  config.TransportHTTP,
		URL:        "http://mcp.internal/github",
		AuthServer: "https://auth.example.com",
		Scopes:     []string{"repo"},
		TrustLevel: config.TrustTrusted,
		Timeout:    time.Second,
	}}
	env := newEnv(t, &scriptedProvider{}, servers, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("list my repos"))
	require.NoError(t, err)

	challenge, ok := resp.(protocol.AuthChallengeResponse)
	require.True(t, ok, "expected AuthChallengeResponse, got %T", resp)
	require.Len(t, challenge.Challenges, 1)
	assert.Equal(t, "github", challenge.Challenges[0].Server)
	assert.True(t, strings.HasPrefix(challenge.Challenges[0].AuthURL, "https://auth.example.com/authorize?"))
	assert.Contains(t, challenge.Challenges[0].AuthURL, "code_challenge=")
	assert.Equal(t, "/weather/1.0.0/", challenge.ResumeURL)
	assert.Empty(t, challenge.TaskID)
}

func TestInvoke_MCPToolRoundTrip(t *testing.T) {
	readOnly := true
	dialer := &fakeDialer{conn: &fakeConn{tools: []mcp.ToolInfo{{
		Name:         "search",
		Description:  "Search repositories",
		InputSchema:  map[string]any{"type": "object"},
		ReadOnlyHint: &readOnly,
	}}}}
	servers := []config.MCPServer{{
		Name:       "github",
		Transport:  config.TransportHTTP,
		URL:        "http://mcp.internal/github",
		TrustLevel: config.TrustTrusted,
		Timeout:    time.Second,
	}}
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{{
			ID:           "call_1",
			PluginName:   "mcp_github",
			FunctionName: "github_search",
			Arguments:    map[string]any{"q": "teal"},
		}}},
		{Text: "Found 3 repositories."},
	}}, servers, dialer)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("search repos for teal"))
	require.NoError(t, err)

	agentResp, ok := resp.(protocol.AgentResponse)
	require.True(t, ok, "expected AgentResponse, got %T", resp)
	assert.Equal(t, "Found 3 repositories.", agentResp.Output)
	assert.Equal(t, int32(1), dialer.conn.calls.Load())
	// One dial for discovery, one ephemeral dial for the call.
	assert.Equal(t, int32(2), dialer.dials.Load())

	stored, err := env.store.Get(context.Background(), agentResp.TaskID)
	require.NoError(t, err)
	var toolItem *task.Item
	for i := range stored.Items {
		if stored.Items[i].Role == task.RoleTool {
			toolItem = &stored.Items[i]
		}
	}
	require.NotNil(t, toolItem)
	assert.Equal(t, "3 results", toolItem.ToolResult)
}

func TestCancelTask(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{deleteCall("call_1")}},
	}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("delete bob"))
	require.NoError(t, err)
	hitl := resp.(protocol.HitlResponse)

	canceled, err := env.handler.CancelTask(context.Background(), "alice", hitl.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, canceled.Status)
	assert.Empty(t, canceled.PendingToolCalls)

	// Canceling again is a no-op.
	again, err := env.handler.CancelTask(context.Background(), "alice", hitl.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCanceled, again.Status)

	_, err = env.handler.CancelTask(context.Background(), "mallory", hitl.TaskID)
	assert.ErrorIs(t, err, task.ErrNotAuthorized)
}

func TestGetTask(t *testing.T) {
	env := newEnv(t, &scriptedProvider{turns: []llm.Completion{{Text: "hi"}}}, nil, nil)

	resp, err := env.handler.Invoke(context.Background(), "alice", userMsg("hello"))
	require.NoError(t, err)
	taskID := resp.(protocol.AgentResponse).TaskID

	got, err := env.handler.GetTask(context.Background(), "alice", taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, got.TaskID)

	_, err = env.handler.GetTask(context.Background(), "mallory", taskID)
	assert.ErrorIs(t, err, task.ErrNotAuthorized)
}

func TestVerify_UnknownFlow(t *testing.T) {
	env := newEnv(t, &scriptedProvider{}, nil, nil)

	_, err := env.handler.Verify(context.Background(), "alice", "no-such-flow", "code")
	assert.ErrorIs(t, err, auth.ErrFlowNotFound)
}
