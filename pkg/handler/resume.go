package handler

import (
	"context"
	"fmt"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

const rejectionReason = "tool calls rejected by user"

// Resume applies an approve or reject decision to a paused request.
func (h *Handler) Resume(ctx context.Context, userID, requestID string, decision protocol.Decision) (protocol.Response, error) {
	return h.resume(ctx, userID, requestID, decision, nil)
}

// ResumeStream is the streaming variant of Resume. On approve the
// continued loop streams like invoke-stream; a reject produces only the
// terminal event.
func (h *Handler) ResumeStream(ctx context.Context, userID, requestID string, decision protocol.Decision, emit Emitter) (protocol.Response, error) {
	return h.resume(ctx, userID, requestID, decision, emit)
}

func (h *Handler) resume(ctx context.Context, userID, requestID string, decision protocol.Decision, emit Emitter) (protocol.Response, error) {
	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	taskID, err := h.store.ResolveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := h.locks.Lock(taskID)
	defer unlock()

	t, err := task.GetOwned(ctx, h.store, taskID, userID)
	if err != nil {
		return nil, err
	}

	// Replays and late resumes answer with the current state; tools
	// execute at most once per request id.
	if t.Status != task.StatusPaused || t.PendingRequestID != requestID {
		return h.currentState(t, requestID), nil
	}

	if decision == protocol.DecisionReject {
		return h.reject(ctx, t, requestID)
	}
	return h.approve(ctx, t, requestID, emit)
}

// reject records a rejection item per pending call and cancels the task.
func (h *Handler) reject(ctx context.Context, t *task.AgentTask, requestID string) (protocol.Response, error) {
	for _, call := range t.PendingToolCalls {
		t.AppendItem(task.Item{
			RequestID:  requestID,
			Role:       task.RoleTool,
			ToolCallID: call.ID,
			ToolResult: rejectionReason,
			IsError:    true,
		})
	}
	t.Status = task.StatusCanceled
	t.PendingToolCalls = nil
	t.PendingRequestID = ""
	if err := h.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return protocol.RejectedToolResponse{
		SessionID: t.SessionID,
		TaskID:    t.TaskID,
		RequestID: requestID,
		Reason:    rejectionReason,
		Status:    string(task.StatusCanceled),
	}, nil
}

// approve executes the pending calls, persists their results, then
// resumes the loop over the extended history.
func (h *Handler) approve(ctx context.Context, t *task.AgentTask, requestID string, emit Emitter) (protocol.Response, error) {
	sessionState, challenge, err := h.ensureDiscovery(ctx, t.UserID, t.SessionID)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		challenge.SessionID = t.SessionID
		challenge.TaskID = t.TaskID
		challenge.RequestID = requestID
		return *challenge, nil
	}

	loop, err := h.buildLoop(sessionState, t.UserID)
	if err != nil {
		return nil, err
	}

	results := loop.ExecuteCalls(ctx, requestID, t.PendingToolCalls)
	for _, item := range results {
		t.AppendItem(item)
	}
	t.Status = task.StatusRunning
	t.PendingToolCalls = nil
	t.PendingRequestID = ""
	if err := h.store.Update(ctx, t); err != nil {
		return nil, err
	}

	outcome, err := h.runLoop(ctx, loop, t, requestID, emit)
	if err != nil {
		return nil, err
	}
	return h.persistOutcome(ctx, t, requestID, outcome)
}

// currentState maps an already-advanced task onto the response a
// replayed resume should see.
func (h *Handler) currentState(t *task.AgentTask, requestID string) protocol.Response {
	switch t.Status {
	case task.StatusPaused:
		// A later request is pending; answer for that one.
		return h.hitlResponse(t, t.PendingRequestID)
	case task.StatusCanceled:
		return protocol.RejectedToolResponse{
			SessionID: t.SessionID,
			TaskID:    t.TaskID,
			RequestID: requestID,
			Reason:    rejectionReason,
			Status:    string(task.StatusCanceled),
		}
	default:
		return protocol.AgentResponse{
			SessionID:  t.SessionID,
			TaskID:     t.TaskID,
			RequestID:  requestID,
			Output:     lastAssistantText(t),
			TokenUsage: t.Usage,
			Status:     string(t.Status),
		}
	}
}

// lastAssistantText returns the most recent assistant text in the task.
func lastAssistantText(t *task.AgentTask) string {
	for i := len(t.Items) - 1; i >= 0; i-- {
		item := t.Items[i]
		if item.Role != task.RoleAssistant {
			continue
		}
		for _, part := range item.Parts {
			if part.Type == protocol.ItemTypeText && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}
