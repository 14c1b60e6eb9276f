package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// limiterStore is the slice of redis.Client the limiter needs.
type limiterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RateLimiter caps message submissions per session over a rolling window,
// counting in Redis so the limit holds across server instances.
type RateLimiter struct {
	redis  limiterStore
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient limiterStore, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := GetSessionID(r.Context())
		key := fmt.Sprintf("ratelimit:chat:%s", sessionID)

		count, err := rl.redis.Incr(r.Context(), key).Result()
		if err != nil {
			// Fail open: a Redis outage should not take chat down with it.
			log.Printf("ratelimit: redis error, allowing request: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if count == 1 {
			if err := rl.redis.Expire(r.Context(), key, rl.window).Err(); err != nil {
				// Without a TTL the counter would throttle the session
				// forever, so discard it and fail open.
				log.Printf("ratelimit: failed to set window on %s, allowing request: %v", key, err)
				rl.redis.Del(r.Context(), key)
				next.ServeHTTP(w, r)
				return
			}
		}

		if count > int64(rl.limit) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many messages. Please try again later.", r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
