// Package redis provides a Redis-based implementation of the storage.Storage interface.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/keycloak-bearer-go/storage"
)

// Config contains configuration options for the Redis storage
type Config struct {
	// Client is the Redis client instance
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys
	// Default: "keycloak:users:"
	KeyPrefix string
}

// Storage implements the storage.Storage interface using Redis
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedItem represents the structure stored in Redis
type storedItem struct {
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Apply defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "keycloak:users:"
	}

	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get retrieves data for a specific key
func (s *Storage) Get(ctx context.Context, key string) (*storage.StorageItem, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}
	redisKey := s.keyPrefix + key

	val, err := s.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Key doesn't exist
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}
	return &storage.StorageItem{Data: item.Data, CreatedAt: item.CreatedAt}, nil
}

// maxSetAttempts bounds the optimistic transaction retries in Set.
const maxSetAttempts = 10

// Set stores data for a specific key. The first write time of an existing
// key is kept; the read and the write run under WATCH so a concurrent writer
// forces a retry.
func (s *Storage) Set(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	redisKey := s.keyPrefix + key

	txf := func(tx *redis.Tx) error {
		created := time.Now()
		prev, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var item storedItem
			if json.Unmarshal(prev, &item) == nil && !item.CreatedAt.IsZero() {
				created = item.CreatedAt
			}
		}
		b, err := marshalItem(data, created)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, b, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxSetAttempts; i++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set key %s: %w", redisKey, err)
		}
		return nil
	}
	return fmt.Errorf("failed to set key %s: concurrent writers kept conflicting", redisKey)
}

// Create stores data only if key is absent, using SETNX.
func (s *Storage) Create(ctx context.Context, key string, data []byte) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidKey
	}
	b, err := marshalItem(data, time.Now())
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, b, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create key %s: %w", s.keyPrefix+key, err)
	}
	return ok, nil
}

// Delete removes key
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", s.keyPrefix+key, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

func marshalItem(data []byte, created time.Time) ([]byte, error) {
	b, err := json.Marshal(storedItem{Data: data, CreatedAt: created})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return b, nil
}
