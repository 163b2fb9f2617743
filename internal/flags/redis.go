package flags

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStore is a durable Store backed by redis, for hosted
// deployments where the core runs server-side and device flags must
// survive instance restarts. Keys are namespaced by prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on an existing redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "appcore"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("%s:flags:%s", s.prefix, key)
}

// Get returns the flag value, false when unset.
func (s *RedisStore) Get(ctx context.Context, key string) (bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return v == "1", nil
}

// Set stores the flag value.
func (s *RedisStore) Set(ctx context.Context, key string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	if err := s.client.Set(ctx, s.key(key), v, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear removes the flag.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Consume reads and clears the flag atomically via GETDEL.
func (s *RedisStore) Consume(ctx context.Context, key string) (bool, error) {
	v, err := s.client.GetDel(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis getdel: %w", err)
	}
	return v == "1", nil
}
