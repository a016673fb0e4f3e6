// Package handler is the entry point for every user interaction. It
// owns the session/task/request identity resolution, task persistence
// around the agent loop, HITL pause bookkeeping and OAuth challenge
// surfacing.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/agent"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// ErrInvalidDecision is returned when a resume carries a decision other
// than approve or reject.
var ErrInvalidDecision = errors.New("invalid resume decision")

// ErrUpstream wraps LLM provider failures so the HTTP layer can map
// them to 502 while storage failures stay 500.
var ErrUpstream = errors.New("llm upstream failure")

// Emitter receives streamed fragments. Returning an error aborts the
// stream at the next yield point.
type Emitter func(protocol.PartialResponse) error

// Handler processes invoke and resume requests for one agent.
type Handler struct {
	cfg      *config.Config
	store    task.Store
	registry *mcp.Registry
	resolver *auth.Resolver
	provider llm.Provider
	natives  []kernel.Plugin
	catalog  *catalog.Catalog

	// locks serializes request processing per task id.
	locks *task.KeyedMutex
}

// New creates a handler.
func New(cfg *config.Config, store task.Store, registry *mcp.Registry, resolver *auth.Resolver, provider llm.Provider, natives []kernel.Plugin, cat *catalog.Catalog) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		resolver: resolver,
		provider: provider,
		natives:  natives,
		catalog:  cat,
		locks:    task.NewKeyedMutex(),
	}
}

// Invoke processes one unary user message.
func (h *Handler) Invoke(ctx context.Context, userID string, msg protocol.UserMessage) (protocol.Response, error) {
	return h.invoke(ctx, userID, msg, nil)
}

// InvokeStream processes one user message, forwarding text fragments
// to emit. The returned response is the terminal event.
func (h *Handler) InvokeStream(ctx context.Context, userID string, msg protocol.UserMessage, emit Emitter) (protocol.Response, error) {
	return h.invoke(ctx, userID, msg, emit)
}

func (h *Handler) invoke(ctx context.Context, userID string, msg protocol.UserMessage, emit Emitter) (protocol.Response, error) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sessionState, challenge, err := h.ensureDiscovery(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		challenge.SessionID = sessionID
		return *challenge, nil
	}

	requestID := uuid.NewString()

	var t *task.AgentTask
	if msg.TaskID != "" {
		unlock := h.locks.Lock(msg.TaskID)
		defer unlock()

		t, err = task.GetOwned(ctx, h.store, msg.TaskID, userID)
		if err != nil {
			return nil, err
		}
	} else {
		t = &task.AgentTask{
			TaskID:    uuid.NewString(),
			SessionID: sessionID,
			UserID:    userID,
			Status:    task.StatusRunning,
		}
		unlock := h.locks.Lock(t.TaskID)
		defer unlock()

		if err := h.store.Create(ctx, t); err != nil {
			return nil, err
		}
	}

	// A new request supersedes any stale pending approval; only the
	// most recent request is ever resumable.
	t.Status = task.StatusRunning
	t.PendingToolCalls = nil
	t.PendingRequestID = ""

	t.AppendItem(task.Item{
		RequestID: requestID,
		Role:      task.RoleUser,
		Parts:     msg.Items,
	})
	if err := h.store.Update(ctx, t); err != nil {
		return nil, err
	}
	if err := h.store.IndexRequest(ctx, requestID, t.TaskID); err != nil {
		return nil, err
	}

	loop, err := h.buildLoop(sessionState, userID)
	if err != nil {
		return nil, err
	}

	outcome, err := h.runLoop(ctx, loop, t, requestID, emit)
	if err != nil {
		return nil, err
	}

	return h.persistOutcome(ctx, t, requestID, outcome)
}

// ensureDiscovery materializes the user's tool set, converting any
// collected auth challenges into the client-facing response with one
// freshly begun PKCE flow per server.
func (h *Handler) ensureDiscovery(ctx context.Context, userID, sessionID string) (*mcp.SessionState, *protocol.AuthChallengeResponse, error) {
	state, err := h.registry.EnsureDiscovery(ctx, userID, sessionID)
	if err == nil {
		return state, nil, nil
	}

	var challengeErr *mcp.ChallengeError
	if !errors.As(err, &challengeErr) {
		return nil, nil, err
	}

	challenges := make([]protocol.AuthChallenge, 0, len(challengeErr.Challenges))
	for _, c := range challengeErr.Challenges {
		server := h.serverByName(c.Server)
		if server == nil {
			continue
		}
		_, authURL := h.resolver.BeginFlow(userID, server)
		challenges = append(challenges, protocol.AuthChallenge{
			Server:  c.Server,
			AuthURL: authURL,
		})
	}

	return nil, &protocol.AuthChallengeResponse{
		Challenges: challenges,
		ResumeURL:  h.cfg.BasePath() + "/",
	}, nil
}

func (h *Handler) serverByName(name string) *config.MCPServer {
	servers := h.cfg.Spec.Agent.MCPServers
	for i := range servers {
		if servers[i].Name == name {
			return &servers[i]
		}
	}
	return nil
}

func (h *Handler) buildLoop(state *mcp.SessionState, userID string) (*agent.Loop, error) {
	k, err := agent.BuildKernel(h.natives, state, userID, h.registry)
	if err != nil {
		return nil, err
	}
	return agent.NewLoop(h.provider, k, h.catalog, h.cfg.Spec.Agent.MaxToolRounds), nil
}

// runLoop reconstructs chat history from the task and drives the agent
// loop, unary or streaming depending on emit.
func (h *Handler) runLoop(ctx context.Context, loop *agent.Loop, t *task.AgentTask, requestID string, emit Emitter) (*agent.Outcome, error) {
	history := agent.BuildHistory(h.cfg.Spec.Agent.SystemPrompt, t.Items)

	var outcome *agent.Outcome
	var err error
	if emit == nil {
		outcome, err = loop.Run(ctx, requestID, history)
	} else {
		outcome, err = loop.RunStream(ctx, requestID, history, func(text string) error {
			return emit(protocol.PartialResponse{
				SessionID:     t.SessionID,
				TaskID:        t.TaskID,
				RequestID:     requestID,
				OutputPartial: text,
			})
		})
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// The task stays Running with the user item persisted; the
		// client may retry against the same task.
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return outcome, nil
}

// persistOutcome appends the run's transcript, advances the task
// lifecycle and builds the terminal response.
func (h *Handler) persistOutcome(ctx context.Context, t *task.AgentTask, requestID string, outcome *agent.Outcome) (protocol.Response, error) {
	for _, item := range outcome.Items {
		t.AppendItem(item)
	}
	t.Usage.Add(outcome.Usage)

	switch outcome.Kind {
	case agent.OutcomePaused:
		t.Status = task.StatusPaused
		t.PendingToolCalls = outcome.PendingCalls
		t.PendingRequestID = requestID
		if err := h.store.Update(ctx, t); err != nil {
			return nil, err
		}
		slog.Info("task paused for approval",
			"task", t.TaskID,
			"request_id", requestID,
			"calls", len(outcome.PendingCalls))
		return h.hitlResponse(t, requestID), nil

	default:
		t.Status = task.StatusCompleted
		t.PendingToolCalls = nil
		t.PendingRequestID = ""
		if err := h.store.Update(ctx, t); err != nil {
			return nil, err
		}
		return protocol.AgentResponse{
			SessionID:  t.SessionID,
			TaskID:     t.TaskID,
			RequestID:  requestID,
			Output:     outcome.Text,
			TokenUsage: outcome.Usage,
			Status:     string(task.StatusCompleted),
		}, nil
	}
}

func (h *Handler) hitlResponse(t *task.AgentTask, requestID string) protocol.HitlResponse {
	resumeURL := h.resumeURL(requestID)
	return protocol.HitlResponse{
		SessionID:    t.SessionID,
		TaskID:       t.TaskID,
		RequestID:    requestID,
		ToolCalls:    t.PendingToolCalls,
		ApprovalURL:  resumeURL,
		RejectionURL: resumeURL,
	}
}

func (h *Handler) resumeURL(requestID string) string {
	return fmt.Sprintf("%s/resume/%s", h.cfg.BasePath(), requestID)
}

// GetTask returns a task to its owner.
func (h *Handler) GetTask(ctx context.Context, userID, taskID string) (*task.AgentTask, error) {
	return task.GetOwned(ctx, h.store, taskID, userID)
}

// CancelTask moves a non-terminal task to Canceled.
func (h *Handler) CancelTask(ctx context.Context, userID, taskID string) (*task.AgentTask, error) {
	unlock := h.locks.Lock(taskID)
	defer unlock()

	t, err := task.GetOwned(ctx, h.store, taskID, userID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return t, nil
	}
	t.Status = task.StatusCanceled
	t.PendingToolCalls = nil
	t.PendingRequestID = ""
	if err := h.store.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Verify completes a pending OAuth flow for the authenticated user and
// clears the user's discovery cache so the next request re-discovers
// with the fresh token. Returns the MCP server name the flow was for.
func (h *Handler) Verify(ctx context.Context, userID, flowID, code string) (string, error) {
	server, err := h.resolver.CompleteFlow(ctx, userID, flowID, code)
	if err != nil {
		return "", err
	}
	if err := h.registry.ClearUser(ctx, userID); err != nil {
		slog.Warn("failed to clear discovery cache after oauth", "user", userID, "error", err)
	}
	slog.Info("oauth flow completed", "user", userID, "server", server)
	return server, nil
}
