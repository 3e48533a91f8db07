package app

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayGuard implements a distributed first-seen check with SET NX.
// It is a fast path only: when Redis is down the caller falls through to the
// database's conditional status transition, which stays authoritative.
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisReplayGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisReplayGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "sacco:payments"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisReplayGuard{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// FirstSeen reports whether the key has not been observed within the TTL
// window. The first caller for a key gets true; replays get false.
func (g *RedisReplayGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	if g == nil || g.client == nil || strings.TrimSpace(key) == "" {
		return true, nil
	}
	return g.client.SetNX(ctx, g.prefix+":"+key, 1, g.ttl).Result()
}

// Forget drops a previously claimed key so the next delivery is treated as
// first-seen again. Callers use it when processing fails after the claim.
func (g *RedisReplayGuard) Forget(ctx context.Context, key string) error {
	if g == nil || g.client == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	return g.client.Del(ctx, g.prefix+":"+key).Err()
}
