package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces limiter keys in the shared Redis.
const DefaultPrefix = "toko:rl:"

// Decision is the outcome of one attempt against a window.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest attempt still counted leaves the window.
	Reset time.Time
}

// RetryAfter is how long the caller should wait before the next attempt.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.Reset.After(now) {
		return 0
	}
	return d.Reset.Sub(now)
}

// Limiter counts attempts per key over a sliding window kept in a Redis sorted
// set scored by attempt time. A nil Client allows everything.
type Limiter struct {
	Client redis.UniversalClient
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Allow records an attempt for key and decides whether it fits limit per window.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	d := Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: now.Add(window)}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return d, nil
	}

	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	redisKey := prefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	current := int(count.Val())
	d.Allowed = current <= limit
	d.Remaining = max(limit-current, 0)
	if first := oldest.Val(); len(first) == 1 {
		d.Reset = time.Unix(0, int64(first[0].Score)).Add(window)
	}
	return d, nil
}
