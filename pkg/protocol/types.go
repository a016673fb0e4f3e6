// Package protocol defines the wire types shared between the request
// handler, the agent loop and the HTTP surface.
//
// Every processed event carries the session/task/request identity triple:
//   - session id groups a logical conversation and scopes MCP discovery
//   - task id is a durable stateful job owned by exactly one user
//   - request id is a single invocation within a task (the unit of HITL
//     pause, idempotent resume and audit)
package protocol

import (
	"fmt"
	"strings"
)

// ItemType discriminates MultiModalItem variants.
type ItemType string

const (
	ItemTypeText  ItemType = "text"
	ItemTypeImage ItemType = "image"
)

// ImageContent carries image data either inline (base64) or by URI.
type ImageContent struct {
	URI      string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Data     string `json:"data,omitempty" yaml:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
}

// MultiModalItem is a tagged variant over text and image content.
type MultiModalItem struct {
	Type  ItemType      `json:"type" yaml:"type"`
	Text  string        `json:"text,omitempty" yaml:"text,omitempty"`
	Image *ImageContent `json:"image,omitempty" yaml:"image,omitempty"`
}

// TextItem builds a text MultiModalItem.
func TextItem(text string) MultiModalItem {
	return MultiModalItem{Type: ItemTypeText, Text: text}
}

// UserMessage is the request body for invoke and invoke-stream.
// SessionID and TaskID are optional; absent values are generated.
type UserMessage struct {
	SessionID string           `json:"session_id,omitempty"`
	TaskID    string           `json:"task_id,omitempty"`
	Items     []MultiModalItem `json:"items"`
}

// FunctionCall is an LLM-produced request to invoke one plugin function.
type FunctionCall struct {
	ID           string         `json:"id"`
	PluginName   string         `json:"plugin_name"`
	FunctionName string         `json:"function_name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
}

// ToolID returns the catalog identifier "{plugin}-{function}".
func (c FunctionCall) ToolID() string {
	return fmt.Sprintf("%s-%s", c.PluginName, c.FunctionName)
}

// SplitFunctionName parses a flat LLM function name back into its
// plugin and function components. Plugin ids never contain "-", so the
// first dash is the separator.
func SplitFunctionName(flat string) (plugin, function string, ok bool) {
	return strings.Cut(flat, "-")
}

// TokenUsage aggregates token counts across all LLM rounds of a request.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from a single LLM round.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Decision is the resume verdict for a paused request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether the decision is one of the accepted values.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}
