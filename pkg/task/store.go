package task

import (
	"context"
	"errors"
)

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = errors.New("task not found")

// ErrRequestNotFound is returned when a request id is not indexed.
var ErrRequestNotFound = errors.New("request not found")

// ErrNotAuthorized is returned when a task is accessed by a user other
// than its owner.
var ErrNotAuthorized = errors.New("not authorized for task")

// Store persists tasks and the request-id index.
//
// Implementations must serialize access per task id themselves or rely
// on callers holding the per-task lock (see KeyedMutex); cross-task
// operations may run fully in parallel.
type Store interface {
	// Create stores a new task.
	Create(ctx context.Context, t *AgentTask) error

	// Get loads a task by id.
	Get(ctx context.Context, taskID string) (*AgentTask, error)

	// Update replaces the stored task.
	Update(ctx context.Context, t *AgentTask) error

	// IndexRequest records request id → task id for resume lookups.
	IndexRequest(ctx context.Context, requestID, taskID string) error

	// ResolveRequest returns the task id for a request id.
	ResolveRequest(ctx context.Context, requestID string) (string, error)
}

// GetOwned loads a task and enforces the ownership invariant: only the
// owning user may see or mutate a task. Every read path goes through
// here.
func GetOwned(ctx context.Context, s Store, taskID, userID string) (*AgentTask, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return t, nil
}
