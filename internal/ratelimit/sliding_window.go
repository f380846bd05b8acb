// Package ratelimit holds the per-tenant limiter consulted before any work is queued.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "bridge:ratelimit:"

// Decision is the limiter verdict for one request.
type Decision struct {
	Allowed   bool
	Reason    string
	Remaining int
}

// Limiter decides whether a tenant may submit another delivery.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) Decision
}

// SlidingWindow counts requests per tenant in a Redis sorted set scored by arrival time.
type SlidingWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewSlidingWindow builds a limiter allowing limit requests per window. A non-positive limit
// disables limiting.
func NewSlidingWindow(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (s *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	s.now = now
	return s
}

// Allow records the request and reports whether it fits the window. Redis failures allow
// the request.
func (s *SlidingWindow) Allow(ctx context.Context, tenantID string) Decision {
	if s.limit <= 0 || s.client == nil {
		return Decision{Allowed: true, Remaining: -1}
	}

	key := keyPrefix + tenantID
	now := s.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(now-s.window.Milliseconds(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request",
			zap.String("tenant_id", tenantID), zap.Error(err))
		return Decision{Allowed: true, Remaining: -1}
	}

	count := int(card.Val())
	if count > s.limit {
		// Rejected requests do not consume capacity.
		if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
			s.logger.Warn("rate limiter cleanup failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %d requests per %s", s.limit, s.window),
		}
	}
	return Decision{Allowed: true, Remaining: s.limit - count}
}

// Unlimited allows everything. Used when Redis is not configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) Decision {
	return Decision{Allowed: true, Remaining: -1}
}
