package task

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a process-local Store for development and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*AgentTask
	requests map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks:    make(map[string]*AgentTask),
		requests: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, t *AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.TaskID]; exists {
		return fmt.Errorf("task already exists: %s", t.TaskID)
	}
	s.tasks[t.TaskID] = t.Clone()
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, taskID string) (*AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) Update(ctx context.Context, t *AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.TaskID]; !exists {
		return ErrTaskNotFound
	}
	s.tasks[t.TaskID] = t.Clone()
	return nil
}

func (s *InMemoryStore) IndexRequest(ctx context.Context, requestID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[requestID] = taskID
	return nil
}

func (s *InMemoryStore) ResolveRequest(ctx context.Context, requestID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taskID, exists := s.requests[requestID]
	if !exists {
		return "", ErrRequestNotFound
	}
	return taskID, nil
}

var _ Store = (*InMemoryStore)(nil)
