package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const authKeyPrefix = "auth:"

// RedisStorage persists OAuth tokens in Redis with an optional TTL.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage wraps an existing Redis client. A zero ttl stores
// entries without expiry.
func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func redisAuthKey(userID, key string) string {
	return fmt.Sprintf("%s%s:%s", authKeyPrefix, userID, key)
}

func (s *RedisStorage) Store(ctx context.Context, userID, key string, data *AuthData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode auth data: %w", err)
	}
	if err := s.client.Set(ctx, redisAuthKey(userID, key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store auth data: %w", err)
	}
	return nil
}

func (s *RedisStorage) Retrieve(ctx context.Context, userID, key string) (*AuthData, error) {
	payload, err := s.client.Get(ctx, redisAuthKey(userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrAuthDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth data: %w", err)
	}

	var data AuthData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to decode auth data: %w", err)
	}
	return &data, nil
}

func (s *RedisStorage) Delete(ctx context.Context, userID, key string) error {
	if err := s.client.Del(ctx, redisAuthKey(userID, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete auth data: %w", err)
	}
	return nil
}

var _ Storage = (*RedisStorage)(nil)
