package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cardrec/internal/shared"

	"github.com/redis/go-redis/v9"
)

// RedisConfig contains configuration options for RedisTokenStore
type RedisConfig struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "cardrec:tokens:"
	KeyPrefix string

	// Profile separates token pairs of different accounts sharing one Redis.
	// Default: "default"
	Profile string
}

// RedisTokenStore shares the token pair between processes. The pair is
// stored as a single JSON value so a reader never observes the access token
// of one refresh next to the refresh token of another.
type RedisTokenStore struct {
	client *redis.Client
	key    string
}

func NewRedisTokenStore(config RedisConfig) (*RedisTokenStore, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = shared.TokenStoreKeyPrefix
	}
	if config.Profile == "" {
		config.Profile = "default"
	}
	return &RedisTokenStore{
		client: config.Client,
		key:    config.KeyPrefix + config.Profile,
	}, nil
}

func (r *RedisTokenStore) Tokens(ctx context.Context) (shared.TokenPair, error) {
	var pair shared.TokenPair
	val, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return pair, nil
	}
	if err != nil {
		return pair, fmt.Errorf("failed to get key %s: %w", r.key, err)
	}
	if err := json.Unmarshal([]byte(val), &pair); err != nil {
		return shared.TokenPair{}, fmt.Errorf("failed to unmarshal token pair: %w", err)
	}
	return pair, nil
}

func (r *RedisTokenStore) SetTokens(ctx context.Context, pair shared.TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to marshal token pair: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisTokenStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", r.key, err)
	}
	return nil
}
