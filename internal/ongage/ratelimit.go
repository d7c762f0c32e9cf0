package ongage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces the provider's per-second call budget across all
// processes using an atomic Redis Lua counter. GET → check → INCR patterns
// race under concurrency; the script checks and increments in one step.
type RedisLimiter struct {
	client  *redis.Client
	key     string
	perSec  int
	script  *redis.Script
}

const limitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end
local new = redis.call("INCR", key)
if new == 1 then
    redis.call("EXPIRE", key, 1)
end
return 1
`

// NewRedisLimiter creates a limiter allowing perSec provider calls per second.
func NewRedisLimiter(client *redis.Client, perSec int) *RedisLimiter {
	if perSec <= 0 {
		perSec = 25
	}
	return &RedisLimiter{
		client: client,
		key:    "ratelimit:ongage",
		perSec: perSec,
		script: redis.NewScript(limitLuaScript),
	}
}

// Wait blocks until a call slot is available or ctx is done. Denied attempts
// poll on a short interval; the provider budget is seconds-granular so the
// wait is bounded by about one second.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		bucket := fmt.Sprintf("%s:%d", l.key, time.Now().Unix())
		allowed, err := l.script.Run(ctx, l.client, []string{bucket}, l.perSec).Int()
		if err != nil {
			return fmt.Errorf("rate limiter check: %w", err)
		}
		if allowed == 1 {
			return nil
		}

		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// LocalLimiter is an in-process fallback when Redis is not configured.
// Single-host deployments only; it cannot coordinate across processes.
type LocalLimiter struct {
	mu      sync.Mutex
	perSec  int
	window  int64
	counted int
}

// NewLocalLimiter creates an in-process per-second limiter.
func NewLocalLimiter(perSec int) *LocalLimiter {
	if perSec <= 0 {
		perSec = 25
	}
	return &LocalLimiter{perSec: perSec}
}

// Wait blocks until a call slot is available in the current second.
func (l *LocalLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now().Unix()
		if now != l.window {
			l.window = now
			l.counted = 0
		}
		if l.counted < l.perSec {
			l.counted++
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(50 * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
