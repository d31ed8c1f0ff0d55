package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter enforces rate limits across multiple server instances
// using Redis as the shared counter store. It applies the GCRA algorithm
// from redis_rate, so bursts are absorbed without a fixed-window reset
// stampede.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	config  RateLimitConfig
}

// NewRedisRateLimiter connects to Redis at the given URL and returns a
// distributed limiter with the supplied per-key limits.
func NewRedisRateLimiter(redisURL string, config RateLimitConfig) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		config: config,
	}, nil
}

// RedisRateLimitMiddleware creates a Gin middleware that rate limits
// requests against the shared Redis store. If Redis is unreachable the
// middleware fails open: requests pass through and the error is logged,
// so a Redis outage degrades rate limiting rather than taking the API
// down with it.
func RedisRateLimitMiddleware(rl *RedisRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + getRateLimitKey(c)

		res, err := rl.limiter.Allow(c.Request.Context(), key, rl.limit)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request",
				"key", key,
				"error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetAfter).Unix(), 10))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
