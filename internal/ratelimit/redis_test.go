package ratelimit

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client)
}

func TestRedisLimiterEnforcesLimit(t *testing.T) {
	l := newTestRedisLimiter(t)
	for i := 0; i < 3; i++ {
		if !l.Take("ip:redis", 3, 60_000) {
			t.Fatalf("expected slot %d admitted", i)
		}
	}
	if l.Take("ip:redis", 3, 60_000) {
		t.Fatal("expected 4th request denied")
	}
}

func TestRedisLimiterCooldown(t *testing.T) {
	l := newTestRedisLimiter(t)
	if remaining := l.TakeCooldown("slug:case-a", 30_000); remaining != 0 {
		t.Fatalf("expected first take to succeed, got %d", remaining)
	}
	if remaining := l.TakeCooldown("slug:case-a", 30_000); remaining <= 0 {
		t.Fatalf("expected a positive remaining cooldown, got %d", remaining)
	}
}
