package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cooldownPrefix = "cooldown:"

// CooldownGuard grants a key at most once per ttl across every instance that
// shares the Redis server.
// Key format: cooldown:<key>
type CooldownGuard struct {
	client redis.Cmdable
}

// NewCooldownGuard creates a CooldownGuard wrapping the given Redis client.
func NewCooldownGuard(client redis.Cmdable) *CooldownGuard {
	return &CooldownGuard{client: client}
}

// Acquire sets the key only if it does not exist yet.
func (g *CooldownGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, cooldownPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown acquire: %w", err)
	}
	return ok, nil
}

// Release deletes the key so the next Acquire succeeds.
func (g *CooldownGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, cooldownPrefix+key).Err(); err != nil {
		return fmt.Errorf("cooldown release: %w", err)
	}
	return nil
}
