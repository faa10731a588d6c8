// Package ratelimit enforces the per-user message budget with a fixed
// window counter in Redis.
//
// The first message in a window creates ratelimit:{user} with value 1 and
// the window as its TTL. Later messages increment the counter without
// touching the TTL, so the window closes at a fixed deadline regardless of
// traffic. When Redis is unreachable the limiter allows the message and
// logs the failure: dropping chat traffic because the counter store is down
// hurts more than briefly losing the cap.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter counts messages per user in fixed windows.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    zerolog.Logger
}

// NewLimiter creates a limiter allowing limit messages per window.
func NewLimiter(rdb *redis.Client, limit int, window time.Duration, logger zerolog.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

func rateKey(userID uuid.UUID) string {
	return "ratelimit:" + userID.String()
}

// Allow reports whether the user may send another message in the current
// window and, when they may, records the send.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID) bool {
	key := rateKey(userID)

	val, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// First message opens the window.
		if err := l.rdb.Set(ctx, key, 1, l.window).Err(); err != nil {
			l.failOpen(userID, err)
		}
		return true
	}
	if err != nil {
		l.failOpen(userID, err)
		return true
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		l.failOpen(userID, err)
		return true
	}
	if count >= l.limit {
		return false
	}

	// Incr keeps the TTL set when the window opened.
	if err := l.rdb.Incr(ctx, key).Err(); err != nil {
		l.failOpen(userID, err)
	}
	return true
}

func (l *Limiter) failOpen(userID uuid.UUID, err error) {
	l.log.Warn().Err(err).Stringer("user_id", userID).Msg("Rate limit check failed, allowing message")
}
