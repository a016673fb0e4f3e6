// Package agent drives the LLM through tool-call rounds, interposing
// the HITL gate before any function executes.
package agent

import (
	"fmt"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// BuildHistory reconstructs chat history from durable task items. The
// history is rebuilt fresh on every invocation; no in-memory
// continuation is assumed.
func BuildHistory(systemPrompt string, items []task.Item) []llm.Message {
	messages := make([]llm.Message, 0, len(items)+1)
	if systemPrompt != "" {
		messages = append(messages, llm.TextMessage(llm.RoleSystem, systemPrompt))
	}

	for _, item := range items {
		switch item.Role {
		case task.RoleUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Items: item.Parts})

		case task.RoleAssistant:
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Items:     item.Parts,
				ToolCalls: item.ToolCalls,
			})

		case task.RoleTool:
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
	return messages
}
