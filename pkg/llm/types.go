// Package llm abstracts the chat-completion endpoint behind a provider
// interface so the agent loop stays independent of any vendor API.
package llm

import (
	"context"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of reconstructed conversation history.
type Message struct {
	Role Role

	// Items carries multimodal content for user and assistant turns.
	Items []protocol.MultiModalItem

	// ToolCalls is set on assistant turns that announced function calls.
	ToolCalls []protocol.FunctionCall

	// ToolCallID and Content are set on tool-result turns.
	ToolCallID string
	Content    string
}

// TextMessage builds a plain text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Items: []protocol.MultiModalItem{protocol.TextItem(text)}}
}

// ToolDefinition describes one callable function advertised to the LLM.
// Name is the flat "{plugin_id}-{function_name}" identifier; Parameters
// is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Completion is the result of one non-streaming LLM round.
type Completion struct {
	Text      string
	ToolCalls []protocol.FunctionCall
	Usage     protocol.TokenUsage
}

// ChunkType discriminates streaming events.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// StreamChunk is one streaming event. The channel is closed after a
// terminal done or error chunk.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *protocol.FunctionCall
	Usage    protocol.TokenUsage
	Err      error
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete runs one blocking LLM round.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error)

	// Stream runs one LLM round, emitting chunks as they arrive. The
	// returned channel is closed when the round ends.
	Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// ModelName reports the configured model identifier.
	ModelName() string
}
