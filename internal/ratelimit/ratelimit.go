// Package ratelimit implements C9: a sliding-window per-key limiter and a
// parallel per-key cooldown, generalizing the teacher's process-wide
// token-bucket middleware into the spec's take/take_cooldown contract.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is the C9 contract: sliding-window admission plus cooldown.
type Limiter interface {
	// Take reports whether a slot was consumed for key under limit requests
	// per windowMs, trimming the window lazily on access.
	Take(key string, limit int, windowMs int64) bool
	// TakeCooldown returns the remaining cooldown in whole seconds, or 0 if
	// the cooldown was not active (and is now started).
	TakeCooldown(key string, cooldownMs int64) int64
	// Close stops the background pruner.
	Close()
}

// MemoryLimiter is the single-process implementation: a map of per-key
// timestamp slices guarded by a mutex, with an embedded pruner goroutine
// started in the constructor — the same "long-lived service object with a
// PRUNE_INTERVAL pruner" shape the teacher's RateLimiter uses.
type MemoryLimiter struct {
	mu            sync.Mutex
	windows       map[string][]int64
	cooldownUntil map[string]int64

	pruneInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewMemoryLimiter constructs a MemoryLimiter and starts its pruner
// goroutine. pruneInterval <= 0 disables background pruning (tests only).
func NewMemoryLimiter(pruneInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		windows:       make(map[string][]int64),
		cooldownUntil: make(map[string]int64),
		pruneInterval: pruneInterval,
		stop:          make(chan struct{}),
	}
	if pruneInterval > 0 {
		go l.pruneLoop()
	}
	return l
}

func (l *MemoryLimiter) pruneLoop() {
	ticker := time.NewTicker(l.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.prune(nowMs())
		case <-l.stop:
			return
		}
	}
}

// prune drops keys whose entire window has aged out and cooldowns that have
// already expired. Eviction is otherwise lazy, per §5's rate-limiter shared
// resource note.
func (l *MemoryLimiter) prune(now int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, stamps := range l.windows {
		if len(stamps) == 0 || stamps[len(stamps)-1] <= now-maxWindowMsForPrune {
			delete(l.windows, key)
		}
	}
	for key, until := range l.cooldownUntil {
		if until <= now {
			delete(l.cooldownUntil, key)
		}
	}
}

// maxWindowMsForPrune is a generous upper bound on any real window used by
// this service (§4.9's widest window is 600s); entries older than this are
// always safe to evict during a prune pass regardless of the limit that
// originally created them.
const maxWindowMsForPrune = 10 * 60 * 1000

func (l *MemoryLimiter) Take(key string, limit int, windowMs int64) bool {
	now := nowMs()
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := trim(l.windows[key], now, windowMs)
	if len(stamps) >= limit {
		l.windows[key] = stamps
		return false
	}
	l.windows[key] = append(stamps, now)
	return true
}

func (l *MemoryLimiter) TakeCooldown(key string, cooldownMs int64) int64 {
	now := nowMs()
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.cooldownUntil[key]
	if ok && until > now {
		remaining := until - now
		return (remaining + 999) / 1000
	}
	l.cooldownUntil[key] = now + cooldownMs
	return 0
}

// Close stops the pruner goroutine. Safe to call multiple times.
func (l *MemoryLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func trim(stamps []int64, now, windowMs int64) []int64 {
	cutoff := now - windowMs
	out := stamps[:0]
	for _, ts := range stamps {
		if ts > cutoff {
			out = append(out, ts)
		}
	}
	return out
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
