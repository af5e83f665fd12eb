package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"altfinder/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

const defaultKeyPrefix = "altfinder:ratelimit:"

// RateLimiter 是基于 Redis 的分布式令牌桶，所有 Worker 对同一个站点主机共享一个导航速率。
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// NewRedisRateLimiter creates a shared per-host limiter. rate is tokens per second per host.
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, prefix string, rate float64, burst float64) *RateLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RateLimiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// bucketName 把主机名归一化为桶名，www. 前缀与大小写不区分。
func bucketName(host string) string {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	if host == "" {
		return "default"
	}
	return host
}

func (r *RateLimiter) key(host string) string {
	return r.prefix + bucketName(host)
}

// Acquire 阻塞直到拿到 host 的一个令牌。ctx 结束时返回同时包装 ErrRateLimitTimeout 与 ctx.Err() 的错误。
func (r *RateLimiter) Acquire(ctx context.Context, host string) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}
	key := r.key(host)

	const jitterMax = 10 * time.Millisecond
	start := time.Now()
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.RateLimitTimeoutTotal.Inc()
			return fmt.Errorf("%w: %w", ErrRateLimitTimeout, ctxErr)
		}
		allowed, waitMs, err := r.tryAcquire(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		wait += rand.N(jitterMax)
		if r.logger != nil {
			r.logger.Debug("rate limited, waiting",
				slog.String("bucket", key),
				slog.Duration("wait", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return fmt.Errorf("%w: %w", ErrRateLimitTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) tryAcquire(ctx context.Context, key string) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{key}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}

	allowed := toInt64(values[0]) == 1
	waitMs := toInt64(values[1])
	return allowed, waitMs, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// Local 是单进程的按主机令牌桶，用于没有 Redis 的 CLI 与测试环境。
type Local struct {
	rps     rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocal creates an in-process per-host limiter. rps <= 0 disables limiting.
func NewLocal(rps float64, burst int) *Local {
	if rps <= 0 {
		return &Local{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Local{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*rate.Limiter)}
}

func (l *Local) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := bucketName(host)
	b, ok := l.buckets[name]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[name] = b
	}
	return b
}

// Acquire 阻塞直到拿到 host 的一个令牌。
func (l *Local) Acquire(ctx context.Context, host string) error {
	if l == nil || l.buckets == nil {
		return nil
	}
	start := time.Now()
	err := l.bucket(host).Wait(ctx)
	metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RateLimitTimeoutTotal.Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrRateLimitTimeout, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrRateLimitTimeout, err)
	}
	return nil
}
