package document_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/tutorcall/internal/document"
)

// exerciseStore runs the behaviour every Store must share.
func exerciseStore(t *testing.T, s document.Store, id string) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get unknown: %v", err)
	}
	if got != "" {
		t.Errorf("Get unknown = %q; want empty", got)
	}

	if err := s.Put(ctx, id, "Photosynthesis happens in chloroplasts."); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got, _ := s.Get(ctx, id); got != "Photosynthesis happens in chloroplasts." {
		t.Errorf("Get = %q", got)
	}

	if err := s.Put(ctx, id, "replaced"); err != nil {
		t.Fatalf("Put replace: %v", err)
	}
	if got, _ := s.Get(ctx, id); got != "replaced" {
		t.Errorf("Get after replace = %q", got)
	}

	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get(ctx, id); got != "" {
		t.Errorf("Get after delete = %q", got)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("Delete twice: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := document.NewMemoryStore()
	exerciseStore(t, s, "01TEST")
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := document.NewMemoryStore()
	_ = s.Put(ctx, "a", "alpha")
	_ = s.Put(ctx, "b", "beta")
	if got, _ := s.Get(ctx, "a"); got != "alpha" {
		t.Errorf("a = %q", got)
	}
	if got, _ := s.Get(ctx, "b"); got != "beta" {
		t.Errorf("b = %q", got)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TUTORCALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TUTORCALL_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	s := document.NewRedisStore(client, time.Minute)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	exerciseStore(t, s, "test-"+time.Now().Format("150405.000000000"))
}
