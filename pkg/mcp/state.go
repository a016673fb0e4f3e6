package mcp

import (
	"context"
	"strings"
	"sync"
)

// SessionStore persists per-(user, session) discovery state. The key
// includes the user id so two users sharing a process never see each
// other's tool lists.
type SessionStore interface {
	// Get returns the state for (userID, sessionID), or nil when no
	// discovery has happened yet.
	Get(ctx context.Context, userID, sessionID string) (*SessionState, error)

	// Put stores the state for (userID, sessionID).
	Put(ctx context.Context, userID, sessionID string, state *SessionState) error

	// ClearUser drops every session entry for the user. Called after an
	// OAuth flow completes so the next request re-discovers with the
	// fresh token.
	ClearUser(ctx context.Context, userID string) error
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// InMemorySessionStore is a process-local SessionStore.
type InMemorySessionStore struct {
	mu    sync.RWMutex
	state map[string]*SessionState
}

// NewInMemorySessionStore creates an empty store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{state: make(map[string]*SessionState)}
}

func (s *InMemorySessionStore) Get(ctx context.Context, userID, sessionID string) (*SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.state[sessionKey(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (s *InMemorySessionStore) Put(ctx context.Context, userID, sessionID string, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[sessionKey(userID, sessionID)] = state.Clone()
	return nil
}

func (s *InMemorySessionStore) ClearUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := userID + ":"
	for key := range s.state {
		if strings.HasPrefix(key, prefix) {
			delete(s.state, key)
		}
	}
	return nil
}

var _ SessionStore = (*InMemorySessionStore)(nil)
