package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/plugins/mathplugin"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// scriptedProvider replays canned completions, one per LLM round.
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
	out := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(out)
		// Emit the text in two fragments to exercise ordering.
		if turn.Text != "" {
			half := len(turn.Text) / 2
			out <- llm.StreamChunk{Type: llm.ChunkText, Text: turn.Text[:half]}
			out <- llm.StreamChunk{Type: llm.ChunkText, Text: turn.Text[half:]}
		}
		for i := range turn.ToolCalls {
			out <- llm.StreamChunk{Type: llm.ChunkToolCall, ToolCall: &turn.ToolCalls[i]}
		}
		out <- llm.StreamChunk{Type: llm.ChunkDone, Usage: turn.Usage}
	}()
	return out, nil
}

func (p *scriptedProvider) ModelName() string { return "scripted" }

func mathCall(id string) protocol.FunctionCall {
	return protocol.FunctionCall{
		ID:           id,
		PluginName:   "math",
		FunctionName: "add",
		Arguments:    map[string]any{"a": 2.0, "b": 3.0},
	}
}

func newTestLoop(t *testing.T, provider llm.Provider, hitl bool) (*Loop, *catalog.Catalog) {
	t.Helper()

	p := kernel.NewNativePlugin("math")
	p.AddFunction("add", "Add two numbers", nil, func(ctx context.Context, args map[string]any) (string, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return fmt.Sprintf("%g", a+b), nil
	})
	p.AddFunction("fail", "Always fails", nil, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("boom")
	})

	k := kernel.New()
	require.NoError(t, k.AddPlugin(p))

	cat := catalog.New()
	cat.Register(&catalog.Entry{
		ToolID:     "math-add",
		PluginID:   "math",
		Name:       "add",
		Governance: config.Governance{RequiresHitl: hitl},
	})

	return NewLoop(provider, k, cat, 5), cat
}

func userHistory(text string) []llm.Message {
	return []llm.Message{llm.TextMessage(llm.RoleUser, text)}
}

func TestRun_TextOnlyCompletes(t *testing.T) {
	provider := &scriptedProvider{turns: []llm.Completion{
		{Text: "The answer is 4.", Usage: protocol.TokenUsage{TotalTokens: 10}},
	}}
	loop, _ := newTestLoop(t, provider, false)

	outcome, err := loop.Run(context.Background(), "r1", userHistory("what is 2+2"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.Kind)
	assert.Equal(t, "The answer is 4.", outcome.Text)
	assert.Equal(t, 10, outcome.Usage.TotalTokens)
	require.Len(t, outcome.Items, 1)
	assert.Equal(t, task.RoleAssistant, outcome.Items[0].Role)
	assert.Equal(t, "r1", outcome.Items[0].RequestID)
}

func TestRun_ToolRoundThenCompletion(t *testing.T) {
	provider := &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{mathCall("call_1")}, Usage: protocol.TokenUsage{TotalTokens: 20}},
		{Text: "2 plus 3 is 5.", Usage: protocol.TokenUsage{TotalTokens: 15}},
	}}
	loop, _ := newTestLoop(t, provider, false)

	outcome, err := loop.Run(context.Background(), "r1", userHistory("add 2 and 3"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.Kind)
	assert.Equal(t, "2 plus 3 is 5.", outcome.Text)
	assert.Equal(t, 35, outcome.Usage.TotalTokens)

	// Transcript: tool-call announcement, tool result, final answer.
	require.Len(t, outcome.Items, 3)
	assert.Equal(t, task.RoleAssistant, outcome.Items[0].Role)
	require.Len(t, outcome.Items[0].ToolCalls, 1)
	assert.Equal(t, task.RoleTool, outcome.Items[1].Role)
	assert.Equal(t, "call_1", outcome.Items[1].ToolCallID)
	assert.Equal(t, "5", outcome.Items[1].ToolResult)
	assert.Equal(t, task.RoleAssistant, outcome.Items[2].Role)
}

func TestRun_GatedCallPausesWithoutExecuting(t *testing.T) {
	var executed bool
	provider := &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{mathCall("call_1")}},
	}}

	p := kernel.NewNativePlugin("math")
	p.AddFunction("add", "Add", nil, func(ctx context.Context, args map[string]any) (string, error) {
		executed = true
		return "5", nil
	})
	k := kernel.New()
	require.NoError(t, k.AddPlugin(p))

	cat := catalog.New()
	cat.Register(&catalog.Entry{
		ToolID:     "math-add",
		Governance: config.Governance{RequiresHitl: true},
	})

	loop := NewLoop(provider, k, cat, 5)
	outcome, err := loop.Run(context.Background(), "r1", userHistory("add"))
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, outcome.Kind)
	require.Len(t, outcome.PendingCalls, 1)
	assert.Equal(t, "call_1", outcome.PendingCalls[0].ID)
	assert.False(t, executed)

	// The announcement is in the transcript so resume can rebuild
	// history around it.
	require.Len(t, outcome.Items, 1)
	require.Len(t, outcome.Items[0].ToolCalls, 1)
}

func TestRun_MixedTurnPausesAllCalls(t *testing.T) {
	// One gated call in the turn gates the whole turn.
	gated := protocol.FunctionCall{ID: "call_2", PluginName: "mcp_github", FunctionName: "github_delete_repo"}
	provider := &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{mathCall("call_1"), gated}},
	}}
	loop, _ := newTestLoop(t, provider, false)

	outcome, err := loop.Run(context.Background(), "r1", userHistory("do both"))
	require.NoError(t, err)

	assert.Equal(t, OutcomePaused, outcome.Kind)
	assert.Len(t, outcome.PendingCalls, 2)
}

func TestRun_ToolFailureFeedsBackAsError(t *testing.T) {
	failing := protocol.FunctionCall{ID: "call_1", PluginName: "math", FunctionName: "fail"}
	provider := &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{failing}},
		{Text: "The tool failed, sorry."},
	}}
	loop, _ := newTestLoop(t, provider, false)

	outcome, err := loop.Run(context.Background(), "r1", userHistory("try it"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.Kind)
	require.Len(t, outcome.Items, 3)
	assert.True(t, outcome.Items[1].IsError)
	assert.Contains(t, outcome.Items[1].ToolResult, "boom")
}

func TestRun_MaxRoundsExceeded(t *testing.T) {
	turns := make([]llm.Completion, 6)
	for i := range turns {
		turns[i] = llm.Completion{ToolCalls: []protocol.FunctionCall{mathCall(fmt.Sprintf("call_%d", i))}}
	}
	provider := &scriptedProvider{turns: turns}
	loop, _ := newTestLoop(t, provider, false)

	_, err := loop.Run(context.Background(), "r1", userHistory("loop forever"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rounds exceeded")
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{turns: []llm.Completion{{Text: "unused"}}}
	loop, _ := newTestLoop(t, provider, false)

	_, err := loop.Run(ctx, "r1", userHistory("hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStream_ForwardsTextFragments(t *testing.T) {
	provider := &scriptedProvider{turns: []llm.Completion{
		{ToolCalls: []protocol.FunctionCall{mathCall("call_1")}},
		{Text: "Result: 5", Usage: protocol.TokenUsage{TotalTokens: 9}},
	}}
	loop, _ := newTestLoop(t, provider, false)

	var fragments []string
	outcome, err := loop.RunStream(context.Background(), "r1", userHistory("add"), func(text string) error {
		fragments = append(fragments, text)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, outcome.Kind)
	assert.Equal(t, "Result: 5", outcome.Text)
	// Only the final text turn was streamed; the tool round produced
	// no fragments.
	var streamed string
	for _, f := range fragments {
		streamed += f
	}
	assert.Equal(t, "Result: 5", streamed)
}

func TestRunStream_EmitFailureAborts(t *testing.T) {
	provider := &scriptedProvider{turns: []llm.Completion{
		{Text: "long answer"},
	}}
	loop, _ := newTestLoop(t, provider, false)

	clientGone := errors.New("client disconnected")
	_, err := loop.RunStream(context.Background(), "r1", userHistory("hi"), func(string) error {
		return clientGone
	})
	assert.ErrorIs(t, err, clientGone)
}

// floodProvider streams more fragments than any consumer buffer holds
// and reports when its producer goroutine has finished.
type floodProvider struct {
	producerDone chan struct{}
}

func (p *floodProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	return nil, errors.New("not scripted")
}

func (p *floodProvider) Stream(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer close(p.producerDone)
		for i := 0; i < 200; i++ {
			select {
			case out <- llm.StreamChunk{Type: llm.ChunkText, Text: "x"}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- llm.StreamChunk{Type: llm.ChunkDone}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *floodProvider) ModelName() string { return "flood" }

func TestRunStream_EmitFailureUnblocksProducer(t *testing.T) {
	provider := &floodProvider{producerDone: make(chan struct{})}
	loop, _ := newTestLoop(t, provider, false)

	clientGone := errors.New("client disconnected")
	_, err := loop.RunStream(context.Background(), "r1", userHistory("hi"), func(string) error {
		return clientGone
	})
	require.ErrorIs(t, err, clientGone)

	// The request context is still live, so only draining lets the
	// producer run to completion instead of parking on a full channel.
	select {
	case <-provider.producerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stream producer still blocked after the consumer aborted")
	}
}

func TestExecuteCalls_SurvivesCanceledContext(t *testing.T) {
	loop, _ := newTestLoop(t, &scriptedProvider{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := loop.ExecuteCalls(ctx, "r1", []protocol.FunctionCall{mathCall("call_1")})
	require.Len(t, items, 1)
	assert.False(t, items[0].IsError)
	assert.Equal(t, "5", items[0].ToolResult)
}

func TestRequiresApproval_Defaults(t *testing.T) {
	cat := catalog.New()

	native := protocol.FunctionCall{PluginName: "math", FunctionName: "unknown"}
	assert.False(t, RequiresApproval(cat, native))

	remote := protocol.FunctionCall{PluginName: "mcp_github", FunctionName: "github_unknown"}
	assert.True(t, RequiresApproval(cat, remote))

	cat.Register(&catalog.Entry{
		ToolID:     "mcp_github-github_search",
		Governance: config.Governance{RequiresHitl: false},
	})
	registered := protocol.FunctionCall{PluginName: "mcp_github", FunctionName: "github_search"}
	assert.False(t, RequiresApproval(cat, registered))
}

func TestBuildHistory(t *testing.T) {
	items := []task.Item{
		{Role: task.RoleUser, Parts: []protocol.MultiModalItem{protocol.TextItem("add 2 and 3")}},
		{Role: task.RoleAssistant, ToolCalls: []protocol.FunctionCall{mathCall("call_1")}},
		{Role: task.RoleTool, ToolCallID: "call_1", ToolResult: "5"},
		{Role: task.RoleTool, ToolCallID: "call_2", ToolResult: "boom", IsError: true},
		{Role: task.RoleAssistant, Parts: []protocol.MultiModalItem{protocol.TextItem("It is 5.")}},
	}

	messages := BuildHistory("You are helpful.", items)
	require.Len(t, messages, 6)

	assert.Equal(t, llm.RoleSystem, messages[0].Role)
	assert.Equal(t, llm.RoleUser, messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, messages[2].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, messages[3].Role)
	assert.Equal(t, "call_1", messages[3].ToolCallID)
	assert.Equal(t, "5", messages[3].Content)
	assert.Equal(t, "Error: boom", messages[4].Content)
	assert.Equal(t, llm.RoleAssistant, messages[5].Role)

	// No system prompt, no system message.
	assert.Len(t, BuildHistory("", items), 5)
}

func TestBuildKernel(t *testing.T) {
	state := mcp.NewSessionState()
	state.Servers["github"] = mcp.ServerState{Tools: []mcp.ToolMeta{{
		ServerName: "github", Name: "search",
	}}}

	k, err := BuildKernel([]kernel.Plugin{mathplugin.New()}, state, "alice", nopInvoker{})
	require.NoError(t, err)

	_, ok := k.Plugin("math")
	assert.True(t, ok)
	_, ok = k.Plugin("mcp_github")
	assert.True(t, ok)

	defs := k.ToolDefinitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Contains(t, names, "math-add")
	assert.Contains(t, names, "mcp_github-github_search")
}

type nopInvoker struct{}

func (nopInvoker) Invoke(ctx context.Context, serverName, userID, toolName string, args map[string]any) (string, bool, error) {
	return "", false, nil
}
