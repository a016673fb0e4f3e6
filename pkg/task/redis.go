package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix    = "task:"
	requestKeyPrefix = "request_index:"
)

// RedisStore persists tasks in Redis. Tasks are retained until
// explicitly deleted; the request index shares the task's lifetime.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Create(ctx context.Context, t *AgentTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.TaskID, err)
	}

	ok, err := s.client.SetNX(ctx, taskKeyPrefix+t.TaskID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store task %s: %w", t.TaskID, err)
	}
	if !ok {
		return fmt.Errorf("task already exists: %s", t.TaskID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*AgentTask, error) {
	data, err := s.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var t AgentTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &t, nil
}

func (s *RedisStore) Update(ctx context.Context, t *AgentTask) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.TaskID, err)
	}

	ok, err := s.client.SetXX(ctx, taskKeyPrefix+t.TaskID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.TaskID, err)
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

func (s *RedisStore) IndexRequest(ctx context.Context, requestID, taskID string) error {
	if err := s.client.Set(ctx, requestKeyPrefix+requestID, taskID, 0).Err(); err != nil {
		return fmt.Errorf("failed to index request %s: %w", requestID, err)
	}
	return nil
}

func (s *RedisStore) ResolveRequest(ctx context.Context, requestID string) (string, error) {
	taskID, err := s.client.Get(ctx, requestKeyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRequestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve request %s: %w", requestID, err)
	}
	return taskID, nil
}

var _ Store = (*RedisStore)(nil)
