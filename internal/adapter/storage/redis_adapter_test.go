package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mallkit/cart/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newRedisCart(t *testing.T) (*RedisAdapter, func()) {
	t.Helper()
	client := getRedisClient(t)
	ownerID := "test-" + uuid.New().String()
	adapter := NewRedisAdapter(client, ownerID)
	cleanup := func() {
		client.Del(context.Background(), adapter.cartKey(), adapter.posKey())
		client.Close()
	}
	return adapter, cleanup
}

func TestRedisUpsertLoad_PreservesInsertionOrder(t *testing.T) {
	adapter, cleanup := newRedisCart(t)
	defer cleanup()
	ctx := context.Background()

	adapter.Upsert(ctx, item("P3", domain.SizeNone, 1, 300))
	adapter.Upsert(ctx, item("P1", domain.SizeS, 2, 100))
	adapter.Upsert(ctx, item("P2", domain.SizeM, 1, 200))

	// Updating an existing key must not move it to the back.
	adapter.Upsert(ctx, item("P3", domain.SizeNone, 5, 300))

	items, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	order := []string{items[0].ProductID, items[1].ProductID, items[2].ProductID}
	if order[0] != "P3" || order[1] != "P1" || order[2] != "P2" {
		t.Errorf("insertion order lost: %v", order)
	}
	if items[0].Quantity != 5 {
		t.Errorf("expected updated quantity 5, got %d", items[0].Quantity)
	}
}

func TestRedisDelete(t *testing.T) {
	adapter, cleanup := newRedisCart(t)
	defer cleanup()
	ctx := context.Background()

	adapter.Upsert(ctx, item("P1", domain.SizeS, 1, 100))

	if err := adapter.Delete(ctx, domain.ItemKey{ProductID: "P1", Size: domain.SizeS}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := adapter.Delete(ctx, domain.ItemKey{ProductID: "P1", Size: domain.SizeS}); err != nil {
		t.Fatalf("deleting an absent key must not error: %v", err)
	}

	items, _ := adapter.Load(ctx)
	if len(items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(items))
	}
}

func TestRedisClear(t *testing.T) {
	adapter, cleanup := newRedisCart(t)
	defer cleanup()
	ctx := context.Background()

	adapter.Upsert(ctx, item("P1", domain.SizeS, 1, 100))
	adapter.Upsert(ctx, item("P2", domain.SizeM, 2, 200))

	if err := adapter.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	items, err := adapter.Load(ctx)
	if err != nil {
		t.Fatalf("load after clear failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty cart, got %d items", len(items))
	}
}

func TestRedisCarts_AreIsolatedByOwner(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()

	a := NewRedisAdapter(client, "owner-a-"+uuid.New().String())
	b := NewRedisAdapter(client, "owner-b-"+uuid.New().String())
	defer client.Del(ctx, a.cartKey(), a.posKey(), b.cartKey(), b.posKey())

	a.Upsert(ctx, item("P1", domain.SizeS, 1, 100))

	items, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("owner B must not see owner A's cart, got %d items", len(items))
	}
}
