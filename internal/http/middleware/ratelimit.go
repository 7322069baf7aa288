// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the two request gates:
//
//   - RateLimiter, an in-process token bucket per client IP (golang.org/x/time/rate)
//     that absorbs floods at the edge before any store is touched.
//   - PostRateLimit, which runs a ratelimit.Guard (fixed window over a shared
//     counter store) keyed by the caller's token hash. Idempotent replays skip it.
package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-anon-backend/internal/ratelimit"
)

// keyFunc selects the identity used to key a token bucket.
type keyFunc func(*gin.Context) string

// KeyByIP keys buckets by client address.
func KeyByIP() keyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// visitor holds a single limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token bucket. Idle buckets are evicted after ttl
// during lookups. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to >= 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Eviction
// runs before the lookup so a stale bucket is replaced, not refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler enforces the bucket and answers 429 "rate_limited" when empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}
		rateLimitRejections.WithLabelValues("edge").Inc()
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay that must not consume allowance.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// KeyByTokenHash keys post limits by the authenticated caller's token hash.
// Requests that reached the gate without Auth share one anonymous bucket.
func KeyByTokenHash(c *gin.Context) (string, error) {
	h := c.GetString(TokenHashKey)
	if h == "" {
		h = "anonymous"
	}
	return "token:" + h, nil
}

// PostRateLimit applies g to each request. Over-limit callers get 429 with
// the allowance in the message and Retry-After set to the window; counter
// store failures are 500s.
func PostRateLimit(g *ratelimit.Guard[*gin.Context]) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		err := g.Check(c.Request.Context(), c)
		if err == nil {
			c.Next()
			return
		}

		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			rateLimitRejections.WithLabelValues("posts").Inc()
			c.Header("Retry-After", strconv.Itoa(int(le.Window/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "rate_limited",
				"message":    le.Error(),
			})
			return
		}

		LoggerFrom(c).Error().Err(err).Msg("rate limit store failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "internal_error",
			"message":    "internal server error",
		})
	}
}
