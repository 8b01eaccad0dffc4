package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "mcp:session:"

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix defaults to DefaultRedisKeyPrefix.
	KeyPrefix string
}

// RedisStore keeps sessions in Redis with native key expiry.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// Get loads and decodes a session.
func (s *RedisStore) Get(ctx context.Context, id string) (*Data, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &data, nil
}

// Save encodes data and sets it with ttl.
func (s *RedisStore) Save(ctx context.Context, id string, data *Data, ttl time.Duration) error {
	raw, err := json.Marshal(cloneData(data))
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session key.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}
