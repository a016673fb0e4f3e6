package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// OutcomeKind discriminates how a loop run ended.
type OutcomeKind int

const (
	// OutcomeDone means the LLM produced a final text answer.
	OutcomeDone OutcomeKind = iota
	// OutcomePaused means a gated tool call awaits human approval.
	OutcomePaused
)

// Outcome is the result of driving the loop until completion or pause.
// Items carries the transcript produced during the run so the caller
// can persist everything in one task update.
type Outcome struct {
	Kind OutcomeKind

	// Text is the final answer for OutcomeDone.
	Text string

	// PendingCalls are the gated calls for OutcomePaused.
	PendingCalls []protocol.FunctionCall

	Items []task.Item
	Usage protocol.TokenUsage
}

// Loop drives one request through any number of LLM tool-call rounds.
type Loop struct {
	provider  llm.Provider
	kernel    *kernel.Kernel
	catalog   *catalog.Catalog
	maxRounds int
}

// NewLoop creates a loop. maxRounds caps tool-call rounds per request;
// zero or negative falls back to 25.
func NewLoop(provider llm.Provider, k *kernel.Kernel, cat *catalog.Catalog, maxRounds int) *Loop {
	if maxRounds <= 0 {
		maxRounds = 25
	}
	return &Loop{provider: provider, kernel: k, catalog: cat, maxRounds: maxRounds}
}

// Run drives the unary loop: call the LLM, execute ungated tool calls,
// feed results back, repeat until a text-only turn or a HITL pause.
func (l *Loop) Run(ctx context.Context, requestID string, history []llm.Message) (*Outcome, error) {
	return l.run(ctx, requestID, history, nil)
}

// RunStream drives the same recursion, forwarding text fragments to
// emit in arrival order. Tool rounds are not surfaced as content.
// A failing emit (client gone) aborts at the next yield point.
func (l *Loop) RunStream(ctx context.Context, requestID string, history []llm.Message, emit func(text string) error) (*Outcome, error) {
	return l.run(ctx, requestID, history, emit)
}

func (l *Loop) run(ctx context.Context, requestID string, history []llm.Message, emit func(string) error) (*Outcome, error) {
	messages := make([]llm.Message, len(history))
	copy(messages, history)

	outcome := &Outcome{}
	tools := l.kernel.ToolDefinitions()

	for round := 0; round < l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var completion *llm.Completion
		var err error
		if emit == nil {
			completion, err = l.provider.Complete(ctx, messages, tools)
		} else {
			completion, err = l.streamRound(ctx, messages, tools, emit)
		}
		if err != nil {
			return nil, err
		}
		outcome.Usage.Add(completion.Usage)

		if len(completion.ToolCalls) == 0 {
			outcome.Kind = OutcomeDone
			outcome.Text = completion.Text
			outcome.Items = append(outcome.Items, task.Item{
				RequestID: requestID,
				Role:      task.RoleAssistant,
				Parts:     []protocol.MultiModalItem{protocol.TextItem(completion.Text)},
			})
			return outcome, nil
		}

		announcement := task.Item{
			RequestID: requestID,
			Role:      task.RoleAssistant,
			ToolCalls: completion.ToolCalls,
		}
		if completion.Text != "" {
			announcement.Parts = []protocol.MultiModalItem{protocol.TextItem(completion.Text)}
		}
		outcome.Items = append(outcome.Items, announcement)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Items:     announcement.Parts,
			ToolCalls: completion.ToolCalls,
		})

		if anyRequiresApproval(l.catalog, completion.ToolCalls) {
			outcome.Kind = OutcomePaused
			outcome.PendingCalls = completion.ToolCalls
			return outcome, nil
		}

		results := l.ExecuteCalls(ctx, requestID, completion.ToolCalls)
		outcome.Items = append(outcome.Items, results...)
		for _, item := range results {
			content := item.ToolResult
			if item.IsError {
				content = fmt.Sprintf("Error: %s", item.ToolResult)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: item.ToolCallID,
				Content:    content,
			})
		}
	}

	return nil, fmt.Errorf("tool-call rounds exceeded limit of %d", l.maxRounds)
}

// streamRound runs one LLM round over the streaming API, forwarding
// text and collecting tool calls until the terminal chunk.
func (l *Loop) streamRound(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, emit func(string) error) (*llm.Completion, error) {
	chunks, err := l.provider.Stream(ctx, messages, tools)
	if err != nil {
		return nil, err
	}

	// abort unblocks the producer before leaving it behind, so its
	// goroutine does not park on a full channel with the request
	// context still live.
	abort := func(err error) (*llm.Completion, error) {
		go func() {
			for range chunks {
			}
		}()
		return nil, err
	}

	completion := &llm.Completion{}
	for chunk := range chunks {
		switch chunk.Type {
		case llm.ChunkText:
			completion.Text += chunk.Text
			if err := emit(chunk.Text); err != nil {
				return abort(err)
			}
		case llm.ChunkToolCall:
			completion.ToolCalls = append(completion.ToolCalls, *chunk.ToolCall)
		case llm.ChunkDone:
			completion.Usage = chunk.Usage
		case llm.ChunkError:
			return nil, chunk.Err
		}
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
	}
	return completion, nil
}

// ExecuteCalls runs each call through the kernel, turning results and
// failures alike into tool items. An execution already in progress is
// allowed to finish even if the request is canceled, so external side
// effects never stop in an undefined state.
func (l *Loop) ExecuteCalls(ctx context.Context, requestID string, calls []protocol.FunctionCall) []task.Item {
	execCtx := context.WithoutCancel(ctx)

	items := make([]task.Item, 0, len(calls))
	for _, call := range calls {
		result, err := l.kernel.Dispatch(execCtx, call)
		item := task.Item{
			RequestID:  requestID,
			Role:       task.RoleTool,
			ToolCallID: call.ID,
			ToolResult: result,
		}
		if err != nil {
			item.ToolResult = err.Error()
			item.IsError = true
			slog.Warn("tool call failed",
				"tool", call.ToolID(),
				"request_id", requestID,
				"error", err)
		}
		items = append(items, item)
	}
	return items
}
