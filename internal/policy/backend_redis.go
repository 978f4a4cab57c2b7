package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend reads cached definitions written by an out-of-band sync from
// the remote policy store. Read-only from the chain's perspective except for
// Put, which the sync uses to refresh entries with a TTL.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Name() string { return "cache" }

func policyKey(name string) string { return "tradeguard:policy:" + name }

func (b *RedisBackend) Get(ctx context.Context, policy string, _ Context) (Definition, bool, error) {
	raw, err := b.client.Get(ctx, policyKey(policy)).Result()
	if errors.Is(err, redis.Nil) {
		return Definition{}, false, nil
	}
	if err != nil {
		return Definition{}, false, fmt.Errorf("policy cache get: %w", err)
	}
	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return Definition{}, false, fmt.Errorf("policy cache decode: %w", err)
	}
	return def, true, nil
}

// Put refreshes a cached definition.
func (b *RedisBackend) Put(ctx context.Context, policy string, def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, policyKey(policy), raw, b.ttl).Err()
}
