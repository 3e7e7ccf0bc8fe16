package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingTTL bounds how long a crashed attempt can hold its reservation
// before the gateway's redelivery gets another chance.
const pendingTTL = 2 * time.Minute

// RedisGuard implements Guard on a shared Redis, so multiple API instances
// deduplicate against the same key space. Begin is a single SetNX; committed
// keys are kept without expiry.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "settlement:session:"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Begin(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, g.prefix+key, "pending", pendingTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (g *RedisGuard) Commit(ctx context.Context, key string) error {
	return g.client.Set(ctx, g.prefix+key, "done", 0).Err()
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	// Only a pending reservation may be freed; a committed key stays.
	val, err := g.client.Get(ctx, g.prefix+key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == "pending" {
		return g.client.Del(ctx, g.prefix+key).Err()
	}
	return nil
}
