package auth

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrAuthDataNotFound is returned when no token is stored under a key.
var ErrAuthDataNotFound = errors.New("auth data not found")

// AuthData is a stored OAuth2 token set. Tokens are opaque blobs and
// must never be logged.
type AuthData struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
}

// Storage persists per-user OAuth tokens under composite keys.
// Writes per (user, key) are serialized by implementations; reads may
// race a writer (last-writer-wins is acceptable since writes carry
// full token sets).
type Storage interface {
	Store(ctx context.Context, userID, key string, data *AuthData) error
	Retrieve(ctx context.Context, userID, key string) (*AuthData, error)
	Delete(ctx context.Context, userID, key string) error
}

// CompositeKey builds the storage key "{authServer}|{sorted scopes}".
// Scopes are sorted so identical scope sets produce identical keys
// regardless of input order, and different sets stay isolated.
func CompositeKey(authServer string, scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return authServer + "|" + strings.Join(sorted, ",")
}

// InMemoryStorage is a process-local Storage for development and tests.
type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string]*AuthData
}

// NewInMemoryStorage creates an empty in-memory token store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: make(map[string]*AuthData)}
}

func storageKey(userID, key string) string {
	return userID + ":" + key
}

func (s *InMemoryStorage) Store(ctx context.Context, userID, key string, data *AuthData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *data
	s.data[storageKey(userID, key)] = &clone
	return nil
}

func (s *InMemoryStorage) Retrieve(ctx context.Context, userID, key string) (*AuthData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[storageKey(userID, key)]
	if !ok {
		return nil, ErrAuthDataNotFound
	}
	clone := *data
	return &clone, nil
}

func (s *InMemoryStorage) Delete(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, storageKey(userID, key))
	return nil
}

var _ Storage = (*InMemoryStorage)(nil)
