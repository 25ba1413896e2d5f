package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/keycloak-bearer-go/storage"
)

// KVStore keeps users in a storage.Storage backend. Each user is a JSON
// record under "user:<id>"; lookups go through an index key
// "idx:<field>:<value>" created with Storage.Create so only one record wins
// a concurrent first login.
type KVStore struct {
	kv storage.Storage
}

func NewKVStore(kv storage.Storage) *KVStore {
	return &KVStore{kv: kv}
}

func userKey(id string) string { return "user:" + id }

func indexKey(field, value string) string { return "idx:" + field + ":" + value }

// FindOrCreate implements Store.
func (s *KVStore) FindOrCreate(ctx context.Context, field, value string) (*User, bool, error) {
	if u, err := s.lookup(ctx, field, value); err != nil || u != nil {
		return u, false, err
	}

	active := true
	u := &User{ID: uuid.NewString(), Active: &active, PasswordUnusable: true, Pending: true, CreatedAt: time.Now().UTC()}
	u.SetField(field, value)
	// The record is written before the index so an index entry never points
	// at a missing user.
	if err := s.Save(ctx, u); err != nil {
		return nil, false, err
	}
	won, err := s.kv.Create(ctx, indexKey(field, value), []byte(u.ID))
	if err != nil {
		return nil, false, fmt.Errorf("create index: %w", err)
	}
	if won {
		return u, true, nil
	}

	_ = s.kv.Delete(ctx, userKey(u.ID))
	existing, err := s.lookup(ctx, field, value)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("user index points at a missing record")
	}
	return existing, false, nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, u *User) error {
	if u == nil || u.ID == "" {
		return errors.New("user has no id")
	}
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.kv.Set(ctx, userKey(u.ID), b)
}

// Get loads a user by id. It returns nil when no such user exists.
func (s *KVStore) Get(ctx context.Context, id string) (*User, error) {
	item, err := s.kv.Get(ctx, userKey(id))
	if err != nil || item == nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(item.Data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (s *KVStore) lookup(ctx context.Context, field, value string) (*User, error) {
	idx, err := s.kv.Get(ctx, indexKey(field, value))
	if err != nil || idx == nil {
		return nil, err
	}
	u, err := s.Get(ctx, string(idx.Data))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user index %s points at a missing record", indexKey(field, value))
	}
	return u, nil
}
