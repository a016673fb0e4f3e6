package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "mcp_session:"

// RedisSessionStore persists discovery state in Redis with a TTL so
// stale tool lists age out.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore wraps an existing Redis client. A zero ttl
// stores entries without expiry.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func redisSessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

func (s *RedisSessionStore) Get(ctx context.Context, userID, sessionID string) (*SessionState, error) {
	payload, err := s.client.Get(ctx, redisSessionKey(userID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	if state.Servers == nil {
		state.Servers = make(map[string]ServerState)
	}
	return &state, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, userID, sessionID string, state *SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := s.client.Set(ctx, redisSessionKey(userID, sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session state: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) ClearUser(ctx context.Context, userID string) error {
	pattern := sessionKeyPrefix + userID + ":*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear session state: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan session state: %w", err)
	}
	return nil
}

var _ SessionStore = (*RedisSessionStore)(nil)
