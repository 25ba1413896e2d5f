// Package storagetest holds a conformance suite every storage.Storage backend
// must pass.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/keycloak-bearer-go/storage"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) storage.Storage

// Run executes the conformance suite.
func Run(t *testing.T, newStorage Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newStorage(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, newStorage(t)) })
	t.Run("SetKeepsCreatedAt", func(t *testing.T) { testSetKeepsCreatedAt(t, newStorage(t)) })
	t.Run("CreateOnce", func(t *testing.T) { testCreateOnce(t, newStorage(t)) })
	t.Run("CreateRace", func(t *testing.T) { testCreateRace(t, newStorage(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStorage(t)) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, newStorage(t)) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Set() overwrite failed: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "v2" {
		t.Fatalf("Get() returned wrong data: got %s, want v2", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not recorded")
	}
}

func testSetKeepsCreatedAt(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if ok, err := s.Create(ctx, "k", []byte("v1")); err != nil || !ok {
		t.Fatalf("Create() = %v, %v", ok, err)
	}
	first, err := s.Get(ctx, "k")
	if err != nil || first == nil {
		t.Fatalf("Get() = %v, %v", first, err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := s.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if string(item.Data) != "v2" {
		t.Fatalf("Get() returned wrong data: got %s, want v2", item.Data)
	}
	if !item.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on overwrite: %v -> %v", first.CreatedAt, item.CreatedAt)
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatalf("Get() of missing key returned %v", item)
	}
}

func testCreateOnce(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ok, err := s.Create(ctx, "k", []byte("first"))
	if err != nil || !ok {
		t.Fatalf("first Create() = %v, %v", ok, err)
	}
	ok, err = s.Create(ctx, "k", []byte("second"))
	if err != nil || ok {
		t.Fatalf("second Create() = %v, %v", ok, err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil || item == nil || string(item.Data) != "first" {
		t.Fatalf("Create() must not overwrite: %v %v", item, err)
	}
}

func testCreateRace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Create(ctx, "race", []byte("x"))
			if err != nil {
				t.Errorf("Create() failed: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := winners.Load(); got != 1 {
		t.Fatalf("want exactly one winner, got %d", got)
	}
}

func testDelete(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item, _ := s.Get(ctx, "k"); item != nil {
		t.Fatal("key still present after Delete()")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() of missing key failed: %v", err)
	}
}

func testEmptyKey(t *testing.T, s storage.Storage) {
	if _, err := s.Get(context.Background(), ""); err == nil {
		t.Fatal("Get(\"\") should fail")
	}
	if _, err := s.Create(context.Background(), "", nil); err == nil {
		t.Fatal("Create(\"\") should fail")
	}
}
