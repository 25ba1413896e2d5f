package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ggoodman/keycloak-bearer-go/storage"
	"github.com/ggoodman/keycloak-bearer-go/storage/memory"
	"github.com/ggoodman/keycloak-bearer-go/storage/redis"
)

func backends(t *testing.T) map[string]storage.Storage {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := redis.New(redis.Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("redis storage: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return map[string]storage.Storage{"memory": memory.New(), "redis": rs}
}

func TestKVStore_FindOrCreate(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewKVStore(kv)
			ctx := context.Background()

			u, created, err := s.FindOrCreate(ctx, "username", "ZOIDBERG")
			if err != nil || !created {
				t.Fatalf("first FindOrCreate = %v, %v", created, err)
			}
			if u.ID == "" || u.Username != "ZOIDBERG" {
				t.Fatalf("unexpected new user: %+v", u)
			}

			u.Email = "zoidberg@x.io"
			if err := s.Save(ctx, u); err != nil {
				t.Fatalf("save: %v", err)
			}

			again, created, err := s.FindOrCreate(ctx, "username", "ZOIDBERG")
			if err != nil || created {
				t.Fatalf("second FindOrCreate = %v, %v", created, err)
			}
			if again.ID != u.ID || again.Email != "zoidberg@x.io" {
				t.Fatalf("lookup returned %+v", again)
			}
		})
	}
}

func TestKVStore_ConcurrentFirstLogin(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := NewKVStore(kv)
			ctx := context.Background()

			var mu sync.Mutex
			ids := map[string]int{}
			creations := 0
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					u, created, err := s.FindOrCreate(ctx, "username", "fry")
					if err != nil {
						t.Errorf("FindOrCreate: %v", err)
						return
					}
					mu.Lock()
					defer mu.Unlock()
					ids[u.ID]++
					if created {
						creations++
					}
				}()
			}
			wg.Wait()
			if len(ids) != 1 || creations != 1 {
				t.Fatalf("want one identity and one creation, got ids=%v creations=%d", ids, creations)
			}
		})
	}
}

func TestKVStore_SaveRequiresID(t *testing.T) {
	s := NewKVStore(memory.New())
	if err := s.Save(context.Background(), &User{}); err == nil {
		t.Fatal("expected error saving a user without id")
	}
}
