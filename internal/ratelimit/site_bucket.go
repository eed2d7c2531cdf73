package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SiteBucket is a distributed politeness budget shared by every process
// scraping the same site. It rides on Redis so the budget for a host holds
// across replicas; the in-process rate window still applies on top of it.
// Defaults come from construction, and individual sites can override
// capacity and refill per call, so a crawl-tolerant site and a fragile one
// can share the limiter.
type SiteBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// Verdict is one admission decision for a host.
type Verdict struct {
	Allowed bool
	// Tokens remaining after this decision.
	Tokens float64
	// RetryAfter is how long until the budget refills enough for one
	// request; zero when Allowed.
	RetryAfter time.Duration
}

// NewSiteBucket constructs a bucket with the default capacity/refill.
func NewSiteBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *SiteBucket {
	return &SiteBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for host if available. capacity and
// refillPerSecond override the defaults when positive; zero means "use the
// defaults". On rejection the verdict carries the wait until the next
// token, derived from the effective refill rate.
func (b *SiteBucket) Allow(ctx context.Context, host string, capacity int, refillPerSecond float64) (Verdict, error) {
	if capacity <= 0 {
		capacity = b.capacity
	}
	if refillPerSecond <= 0 {
		refillPerSecond = b.refill
	}

	now := time.Now().UnixMilli()
	key := "site:" + host
	res, err := budgetScript.Run(ctx, b.client, []string{key},
		capacity, refillPerSecond/1000.0, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Verdict{}, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return Verdict{}, fmt.Errorf("unexpected script reply: %v", res)
	}

	v := Verdict{}
	if n, ok := arr[0].(int64); ok {
		v.Allowed = n == 1
	}
	if s, ok := arr[1].(string); ok {
		v.Tokens, _ = strconv.ParseFloat(s, 64)
	}
	if ms, ok := arr[2].(int64); ok {
		v.RetryAfter = time.Duration(ms) * time.Millisecond
	}
	return v, nil
}

// The budget is a float so sub-token refill accrues between calls; it is
// stored as a string because Redis replies truncate Lua numbers to
// integers. wait_ms is how long until the budget reaches one token.
var budgetScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'budget', 'stamp')
local budget = tonumber(state[1])
local stamp = tonumber(state[2])
if budget == nil then budget = capacity end
if stamp == nil then stamp = now end

local elapsed = math.max(0, now - stamp)
budget = math.min(capacity, budget + elapsed * refill_per_ms)

local allowed = 0
local wait_ms = 0
if budget >= 1 then
  allowed = 1
  budget = budget - 1
else
  wait_ms = math.ceil((1 - budget) / refill_per_ms)
end

redis.call('HSET', key, 'budget', tostring(budget), 'stamp', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(budget), wait_ms}
`)
