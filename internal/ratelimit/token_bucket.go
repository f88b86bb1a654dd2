package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket limits inbound messages per sender. State lives in Redis so every API
// replica draws from the same bucket.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenBucket returns a bucket holding capacity tokens that refills at refillPerSecond.
// Idle buckets expire after ttl.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		prefix:   "rl:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock overrides the time source used to compute refill.
func (b *TokenBucket) SetClock(now func() time.Time) {
	b.now = now
}

// Allow takes one token from the sender's bucket. It reports whether the request may
// proceed and how many tokens remain.
func (b *TokenBucket) Allow(ctx context.Context, sender string) (bool, float64, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + sender},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", sender, err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected reply %v", sender, res)
	}
	allowed, _ := res[0].(int64)
	var tokens float64
	switch v := res[1].(type) {
	case int64:
		tokens = float64(v)
	case string:
		_, _ = fmt.Sscanf(v, "%g", &tokens)
	}
	return allowed == 1, tokens, nil
}

// Tokens are returned as a string so fractional balances survive the Lua to RESP
// integer conversion.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
