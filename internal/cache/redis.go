package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
)

// emptyResult marks a successful attempt that produced no result
const emptyResult = "null"

// RedisIdempotencyStore keeps idempotency keys in Redis
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	log.Info().Str("addr", client.Options().Addr).Msg("Connected to Redis")
	return client, nil
}

// NewIdempotencyStore returns the Redis store when enabled and the in-memory
// store otherwise.
func NewIdempotencyStore(cfg config.RedisConfig) (IdempotencyStore, error) {
	if !cfg.Enabled {
		return NewMemoryIdempotencyStore(cfg.TTL), nil
	}
	client, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisIdempotencyStore(client, cfg.TTL), nil
}

// NewRedisIdempotencyStore wraps an existing client
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get idempotency key from Redis")
	}
	if string(data) == emptyResult {
		return nil, true, nil
	}
	return json.RawMessage(data), true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, result json.RawMessage) error {
	value := []byte(emptyResult)
	if len(result) > 0 {
		value = result
	}
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set idempotency key in Redis")
	}
	return nil
}

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
