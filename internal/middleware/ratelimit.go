package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig sizes one token bucket tier.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// CleanupInterval is how often idle client buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig covers general API traffic. The burst absorbs UI
// pages that fan out into several requests at once.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig throttles login attempts.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig throttles artifact blob uploads.
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// refill advances the bucket to now, crediting tokens at the configured rate
// up to the burst cap.
func (b *bucket) refill(now time.Time, cfg RateLimitConfig) {
	perSecond := float64(cfg.RequestsPerMinute) / 60.0
	credit := now.Sub(b.lastUpdate).Seconds() * perSecond
	b.tokens = min(float64(cfg.BurstSize), b.tokens+credit)
	b.lastUpdate = now
}

// RateLimiter is an in-process token bucket limiter keyed per client. Each
// replica enforces its limit independently; the Redis variant in
// ratelimit_redis.go shares state across replicas.
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*bucket
	stopCh  chan struct{}
}

// NewRateLimiter builds a limiter and starts its idle-bucket sweeper.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// sweep drops buckets idle for more than ten minutes so the map does not
// grow without bound under churning client IPs.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if b.lastUpdate.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow consumes one token for key, reporting whether the request may
// proceed. Unknown clients start with a full burst.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		rl.buckets[key] = &bucket{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true
	}

	b.refill(now, rl.config)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RemainingTokens reports the current token count for key without consuming.
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, ok := rl.buckets[key]
	if !ok {
		return rl.config.BurstSize
	}
	snapshot := *b
	snapshot.refill(time.Now(), rl.config)
	return int(snapshot.tokens)
}

// RateLimitMiddleware rejects over-limit requests with 429 and annotates
// responses with X-RateLimit headers.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		if !limiter.Allow(key) {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))
		c.Next()
	}
}

// getRateLimitKey prefers the authenticated username over the client IP so a
// user behind a shared NAT is not throttled by their neighbors.
func getRateLimitKey(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		if name, ok := username.(string); ok && name != "" {
			return "user:" + name
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
