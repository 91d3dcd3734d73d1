package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/mallkit/cart/internal/core/domain"
)

const cartKeyPrefix = "cart:"

// RedisAdapter keeps one hash per cart, one field per line item. Each
// field value carries the item plus an insertion position taken from a
// counter key, since hash fields have no order of their own.
//
// Same-key operations are serialized upstream by the sync engine, so the
// read-modify-write on a single field here never races itself; different
// keys live in different fields and stay independent.
type RedisAdapter struct {
	client  *redis.Client
	ownerID string
}

func NewRedisAdapter(client *redis.Client, ownerID string) *RedisAdapter {
	return &RedisAdapter{client: client, ownerID: ownerID}
}

type redisEntry struct {
	Pos  int64           `json:"pos"`
	Item domain.LineItem `json:"item"`
}

func (r *RedisAdapter) cartKey() string {
	return cartKeyPrefix + r.ownerID
}

func (r *RedisAdapter) posKey() string {
	return cartKeyPrefix + r.ownerID + ":pos"
}

func fieldName(key domain.ItemKey) string {
	return key.ProductID + "|" + string(key.Size)
}

func (r *RedisAdapter) Load(ctx context.Context) ([]domain.LineItem, error) {
	fields, err := r.client.HGetAll(ctx, r.cartKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}

	entries := make([]redisEntry, 0, len(fields))
	for _, raw := range fields {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode cart entry: %w", err)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Pos < entries[j].Pos })

	items := make([]domain.LineItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Item)
	}
	return items, nil
}

func (r *RedisAdapter) Upsert(ctx context.Context, item domain.LineItem) error {
	field := fieldName(item.Key())

	var pos int64
	raw, err := r.client.HGet(ctx, r.cartKey(), field).Result()
	switch {
	case err == redis.Nil:
		pos, err = r.client.Incr(ctx, r.posKey()).Result()
		if err != nil {
			return fmt.Errorf("redis INCR: %w", err)
		}
	case err != nil:
		return fmt.Errorf("redis HGET: %w", err)
	default:
		var existing redisEntry
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("decode cart entry: %w", err)
		}
		pos = existing.Pos
	}

	data, err := json.Marshal(redisEntry{Pos: pos, Item: item})
	if err != nil {
		return fmt.Errorf("encode cart entry: %w", err)
	}
	if err := r.client.HSet(ctx, r.cartKey(), field, data).Err(); err != nil {
		return fmt.Errorf("redis HSET: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, key domain.ItemKey) error {
	if err := r.client.HDel(ctx, r.cartKey(), fieldName(key)).Err(); err != nil {
		return fmt.Errorf("redis HDEL: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.cartKey(), r.posKey()).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}
