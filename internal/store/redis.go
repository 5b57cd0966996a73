package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ozzus/sbe-monitor/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps the queue in a redis list so several agents can share it.
// Jobs are LPUSHed and RPOPed; RPOP is atomic, so each job reaches one agent.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisUniversalClient accepts either a redis:// URL or a bare host:port.
func NewRedisUniversalClient(addr string) (redis.UniversalClient, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}

	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}}), nil
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Push(ctx context.Context, job *domain.Job) error {
	b, err := encodeRecord(job)
	if err != nil {
		return err
	}

	if err := s.client.LPush(ctx, s.key, b).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", s.key, err)
	}

	return nil
}

func (s *RedisStore) Pop(ctx context.Context) (*domain.Job, bool, error) {
	b, err := s.client.RPop(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis rpop %s: %w", s.key, err)
	}

	job, err := decodeRecord(b)
	if err != nil {
		return nil, false, err
	}

	return job, true, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %s: %w", s.key, err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
