// Package storage defines the key-value contract the identity store is built
// on. Backends live in the memory and redis subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for flat key-value storage.
type Storage interface {
	// Get retrieves data for key.
	// Returns nil StorageItem if key doesn't exist.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, key string) (*StorageItem, error)

	// Set stores data for key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte) error

	// Create stores data for key only if the key does not exist yet. It reports
	// whether this call created the key. Concurrent callers racing on the same
	// key see exactly one true.
	Create(ctx context.Context, key string, data []byte) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata
type StorageItem struct {
	Data      []byte    // The stored data
	CreatedAt time.Time // When the item was first written
}

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("storage: invalid key")
