// Package task holds the durable task model and its persistence
// abstractions. A task owns the full interaction history of a
// conversation job; its items are append-only and every access is
// scoped to the owning user.
package task

import (
	"time"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusCompleted Status = "Completed"
	StatusCanceled  Status = "Canceled"
	StatusFailed    Status = "Failed"
)

// IsTerminal reports whether the status ends the task lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// Role identifies who produced a task item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Item is one entry in a task's interaction history.
//
// Role user: input message (Parts). Role assistant: an LLM turn, either
// text (Parts) or an announcement of tool calls (ToolCalls). Role tool:
// one tool execution result keyed to the function call it answers.
type Item struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
	Role      Role   `json:"role"`

	Parts     []protocol.MultiModalItem `json:"parts,omitempty"`
	ToolCalls []protocol.FunctionCall   `json:"tool_calls,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolResult string `json:"tool_result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`

	Updated time.Time `json:"updated"`
}

// AgentTask is the durable record of a conversation job.
type AgentTask struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Status    Status `json:"status"`

	Items []Item `json:"items"`

	// PendingToolCalls is populated only while Status is Paused.
	PendingToolCalls []protocol.FunctionCall `json:"pending_tool_calls,omitempty"`

	// PendingRequestID is the request whose approval is awaited; only
	// the most recent pending request is resumable.
	PendingRequestID string `json:"pending_request_id,omitempty"`

	Usage protocol.TokenUsage `json:"usage"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// AppendItem appends an item, keeping the updated timestamps
// monotonically non-decreasing.
func (t *AgentTask) AppendItem(item Item) {
	now := time.Now().UTC()
	if n := len(t.Items); n > 0 && t.Items[n-1].Updated.After(now) {
		now = t.Items[n-1].Updated
	}
	item.TaskID = t.TaskID
	item.Updated = now
	t.Items = append(t.Items, item)
	t.LastUpdatedAt = now
}

// Clone deep-copies the task so stored state never aliases caller state.
func (t *AgentTask) Clone() *AgentTask {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Items = make([]Item, len(t.Items))
	copy(clone.Items, t.Items)
	if t.PendingToolCalls != nil {
		clone.PendingToolCalls = make([]protocol.FunctionCall, len(t.PendingToolCalls))
		copy(clone.PendingToolCalls, t.PendingToolCalls)
	}
	return &clone
}
