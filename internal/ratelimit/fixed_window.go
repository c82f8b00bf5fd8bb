package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "contractlens:ratelimit"

// incrWithExpiry counts a hit in the current window, stamping the TTL only
// on the first hit so the window boundary stays put.
var incrWithExpiry = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

// FixedWindowLimiter enforces a per-user quota in fixed windows, shared
// across api replicas through Redis. Uploads and analysis requests are the
// expensive operations it meters; each one fans out into object storage
// writes and an LLM round trip.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	prefix string
	rdb    *redis.Client
}

// NewRedisFixedWindowLimiter builds a limiter allowing limit hits per key
// per window.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires a positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter requires a redis addr")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		prefix: prefix,
		rdb:    redis.NewClient(&redis.Options{Addr: addr, Password: password}),
	}, nil
}

// Allow reports whether the key has quota left in the current window. A
// Redis error counts as "no": failing closed throttles clients during an
// outage instead of letting uploads hammer the analyzer unmetered.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	windowMillis := l.window.Milliseconds()
	slot := time.Now().UnixMilli() / windowMillis
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hits, err := incrWithExpiry.Run(ctx, l.rdb, []string{redisKey}, windowMillis).Int64()
	if err != nil {
		slog.Warn("rate limiter unavailable, denying request", "key", key, "err", err)
		return false
	}
	return hits <= int64(l.limit)
}
