// Package ratelimit throttles write endpoints with a Redis-backed sliding
// window.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more event is allowed under the key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Sliding is a sliding window limiter over Redis sorted sets. Each event is
// a member scored by its nanosecond timestamp; events older than the window
// are pruned on every check.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Window time.Duration
	Max    int
}

// Allow registers an event under key and reports whether it fits the window.
// A nil client or non-positive limit disables throttling.
func (s *Sliding) Allow(ctx context.Context, key string) (Decision, error) {
	if s == nil || s.Client == nil || s.Max <= 0 || s.Window <= 0 {
		return Decision{Allowed: true, Limit: s.limit(), Remaining: s.limit()}, nil
	}

	now := time.Now()
	resetAt := now.Add(s.Window)
	cutoff := float64(now.Add(-s.Window).UnixNano())
	redisKey := s.Prefix + key

	pipe := s.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit pipeline: %w", err)
	}

	current := int(countCmd.Val())
	remaining := s.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   current <= s.Max,
		Limit:     s.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (s *Sliding) limit() int {
	if s == nil {
		return 0
	}
	return s.Max
}

// ClientIP extracts the caller address for keying. RealIP middleware runs
// before this, so RemoteAddr already reflects X-Forwarded-For when trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
