package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nadmax/conductor/internal/loop"
)

const (
	checkpointHashKey   = "checkpoints"
	latestCheckpointKey = "checkpoint:latest"
)

// RedisCheckpointStore persists continuation checkpoints so the host can
// resume a run after a process restart.
type RedisCheckpointStore struct {
	client *redis.Client
}

func NewRedisCheckpointStore(redisAddr string) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCheckpointStore{client: client}, nil
}

func (s *RedisCheckpointStore) SaveCheckpoint(ctx context.Context, cp *loop.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := s.client.HSet(ctx, checkpointHashKey, cp.ID, data).Err(); err != nil {
		return err
	}

	return s.client.Set(ctx, latestCheckpointKey, cp.ID, 0).Err()
}

func (s *RedisCheckpointStore) LoadCheckpoint(ctx context.Context, id string) (*loop.Checkpoint, error) {
	data, err := s.client.HGet(ctx, checkpointHashKey, id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", id, err)
	}

	var cp loop.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", id, err)
	}

	return &cp, nil
}

// LatestCheckpoint returns the most recently saved checkpoint, or nil when
// none exists.
func (s *RedisCheckpointStore) LatestCheckpoint(ctx context.Context) (*loop.Checkpoint, error) {
	id, err := s.client.Get(ctx, latestCheckpointKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return s.LoadCheckpoint(ctx, id)
}

func (s *RedisCheckpointStore) DeleteCheckpoint(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, checkpointHashKey, id).Err(); err != nil {
		return err
	}

	latest, err := s.client.Get(ctx, latestCheckpointKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if latest == id {
		return s.client.Del(ctx, latestCheckpointKey).Err()
	}

	return nil
}

func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
