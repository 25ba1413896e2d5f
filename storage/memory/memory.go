// Package memory provides an in-memory implementation of the storage interface.
// Data lives for the lifetime of the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ggoodman/keycloak-bearer-go/storage"
)

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu    sync.RWMutex
	items map[string]*storage.StorageItem
}

// New creates a new in-memory storage implementation
func New() *Storage {
	return &Storage{items: map[string]*storage.StorageItem{}}
}

// Get retrieves data for a specific key
func (s *Storage) Get(ctx context.Context, key string) (*storage.StorageItem, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return copyItem(item), nil
}

// Set stores data for a specific key
func (s *Storage) Set(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	created := time.Now()
	if prev, ok := s.items[key]; ok {
		created = prev.CreatedAt
	}
	s.items[key] = &storage.StorageItem{Data: append([]byte(nil), data...), CreatedAt: created}
	return nil
}

// Create stores data only if key is absent
func (s *Storage) Create(ctx context.Context, key string, data []byte) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.items[key] = &storage.StorageItem{Data: append([]byte(nil), data...), CreatedAt: time.Now()}
	return true, nil
}

// Delete removes key
func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len reports the number of stored keys.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close releases resources
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]*storage.StorageItem{}
	return nil
}

func copyItem(item *storage.StorageItem) *storage.StorageItem {
	return &storage.StorageItem{Data: append([]byte(nil), item.Data...), CreatedAt: item.CreatedAt}
}
