// Package ratelimit throttles login attempts with a token bucket kept in
// Redis, so the limit holds across every server instance sharing that Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketLua refills the bucket for the time elapsed since the last call,
// then tries to take one token. Runs atomically inside Redis.
//
// KEYS[1] bucket key
// ARGV    rate (tokens/s), burst, now (ms)
// returns {allowed 0|1, wait_ms}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if rate <= 0 or burst <= 0 then
  return {1, 0}
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
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed, wait_ms}
`

// Limiter holds one bucket per key under a common prefix.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

// New returns a limiter allowing burst attempts per key, refilled at rate
// tokens per second. A zero rate or burst disables limiting.
func New(rdb *redis.Client, logger *slog.Logger, prefix string, rate, burst float64) *Limiter {
	if prefix == "" {
		prefix = "taskmanager:ratelimit"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Allow takes one token from key's bucket. It never blocks: when the bucket
// is empty it returns false and how long until the next token.
// A nil *Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.rate <= 0 || l.burst <= 0 {
		return true, 0, nil
	}

	res, err := l.script.Run(ctx, l.rdb,
		[]string{l.prefix + ":" + key},
		l.rate, l.burst, l.now().UnixMilli(),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}

	allowed := toInt64(values[0]) == 1
	wait := time.Duration(toInt64(values[1])) * time.Millisecond
	if !allowed {
		l.logger.Debug("rate limit hit", slog.String("key", key), slog.Duration("retry_after", wait))
	}
	return allowed, wait, nil
}

// Reset forgets key's bucket, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	if err := l.rdb.Del(ctx, l.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset: %w", err)
	}
	return nil
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
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
