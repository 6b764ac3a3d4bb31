package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ScanRateLimiter counts scans per subject in a fixed window.
type ScanRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// fixedWindowScript increments KEYS[1], starting its window of ARGV[1] ms on
// the first hit, and returns {count, remaining ms}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

const defaultScanKeyPrefix = "tickets:rate_limit"

// RedisScanRateLimiter keeps scan windows in Redis so every replica shares them.
type RedisScanRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisScanRateLimiter(client redis.UniversalClient, prefix string) *RedisScanRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultScanKeyPrefix
	}
	return &RedisScanRateLimiter{client: client, prefix: prefix}
}

func (r *RedisScanRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := limiterKey(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	windowMs := max(window.Milliseconds(), 1000)
	res, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("scan limiter: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("scan limiter: expected 2 values, got %d", len(res))
	}

	ttlMs := res[1]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	return int(res[0]), retryAfterFromMillis(ttlMs), nil
}

// limiterKey joins the trimmed scope and subject; ok is false when either is blank.
func limiterKey(scope, subject string) (key string, ok bool) {
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	return scope + ":" + subject, true
}

func retryAfterFromMillis(ms int64) int {
	return max(int(math.Ceil(float64(ms)/1000.0)), 1)
}

// LocalScanRateLimiter is the single-process fallback used when Redis is not
// configured. Each subject gets a token bucket refilled at limit per window.
type LocalScanRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalScanRateLimiter() *LocalScanRateLimiter {
	return &LocalScanRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *LocalScanRateLimiter) ConsumeRateLimit(_ context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := limiterKey(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	reservation := limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return 1, 0, nil
	}
	reservation.Cancel()
	return limit + 1, retryAfterFromMillis(delay.Milliseconds()), nil
}
