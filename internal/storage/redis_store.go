// Package storage provides the object storage collaborator for input files
// and produced artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imagemill/imagemill/internal/core"
	imerrors "github.com/imagemill/imagemill/internal/errors"
)

// RedisStore implements the ObjectStore contract on Redis string keys. The
// pipeline treats references as opaque; here a reference is simply the key.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A zero ttl keeps objects indefinitely.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Put stores data under the given key and returns the reference. Writes to
// the same key overwrite deterministically, which keeps reprocessing after a
// redelivery idempotent.
func (s *RedisStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set %s: %w", key, err)
	}
	return key, nil
}

// Get retrieves the bytes stored under the given reference.
func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, errors.New("reference cannot be empty")
	}
	result, err := s.client.Get(ctx, ref).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, imerrors.NotFoundf("object %s not found", ref)
		}
		return nil, fmt.Errorf("redis get %s: %w", ref, err)
	}
	return []byte(result), nil
}

// Health checks the Redis connection.
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ core.ObjectStore = (*RedisStore)(nil)
