package security

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles booking traffic with a Redis fixed window per
// caller, so one client hammering a popular seat cannot starve the rest.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

// Wrap applies the limit to a route handler. Authenticated requests are
// keyed by user id, anonymous ones by client IP.
func (r *RateLimiter) Wrap(next func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		allowed, err := r.allow(e.Request.Context(), r.identifier(e))
		if err != nil {
			// Redis being down must not block bookings.
			return next(e)
		}
		if !allowed {
			return apis.NewApiError(http.StatusTooManyRequests,
				"Rate limit exceeded. Please try again later.", nil)
		}
		return next(e)
	}
}

func (r *RateLimiter) identifier(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	return "ip:" + e.RealIP()
}

func (r *RateLimiter) allow(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%d", id, time.Now().Unix()/int64(r.window.Seconds()))

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}

	return count <= int64(r.limit), nil
}
