package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter backs C9 with a shared Redis instance so the limiter and
// cooldown state can be observed across multiple service instances, per the
// scale-out path noted in §9 Design Notes. The sliding window is kept as a
// sorted set of timestamps per key (ZADD + ZREMRANGEBYSCORE + ZCARD); the
// cooldown is a simple key with a TTL.
type RedisLimiter struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	if client == nil {
		panic("ratelimit: redis client required")
	}
	return &RedisLimiter{client: client, ctx: context.Background()}
}

func (l *RedisLimiter) Take(key string, limit int, windowMs int64) bool {
	now := nowMs()
	cutoff := now - windowMs
	windowKey := "ratelimit:window:" + key

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(l.ctx, windowKey, "-inf", fmt.Sprintf("(%d", cutoff))
	card := pipe.ZCard(l.ctx, windowKey)
	if _, err := pipe.Exec(l.ctx); err != nil {
		return false
	}
	if card.Val() >= int64(limit) {
		return false
	}

	member := fmt.Sprintf("%d-%d", now, card.Val())
	pipe2 := l.client.TxPipeline()
	pipe2.ZAdd(l.ctx, windowKey, redis.Z{Score: float64(now), Member: member})
	pipe2.PExpire(l.ctx, windowKey, time.Duration(windowMs)*time.Millisecond)
	if _, err := pipe2.Exec(l.ctx); err != nil {
		return false
	}
	return true
}

func (l *RedisLimiter) TakeCooldown(key string, cooldownMs int64) int64 {
	cooldownKey := "ratelimit:cooldown:" + key
	ok, err := l.client.SetNX(l.ctx, cooldownKey, "1", time.Duration(cooldownMs)*time.Millisecond).Result()
	if err != nil {
		return 0
	}
	if ok {
		return 0
	}
	ttl, err := l.client.PTTL(l.ctx, cooldownKey).Result()
	if err != nil || ttl <= 0 {
		return 0
	}
	return int64((ttl + 999*time.Millisecond) / time.Second)
}

// Close is a no-op: the caller owns the underlying *redis.Client's lifecycle.
func (l *RedisLimiter) Close() {}
