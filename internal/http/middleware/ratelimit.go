// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the in-memory token-bucket limiter that protects the
// merchant API. Every caller gets a default bucket, and selected routes (the
// purchase endpoint in particular) can carry their own, tighter bucket so a
// client polling GET /merchant never starves its own purchases and a client
// hammering POST /merchant/buy is throttled before it reaches the store.
//
// Buckets are keyed by player ID when Identity ran, otherwise by client IP.
// Idempotent replays flagged by IdempotencyValidator skip limiting entirely.
//
// The limiter is process-local, like the rest of the merchant runtime.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-merchant-backend/internal/observability"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP prefers the player identity stored by Identity and falls back
// to the client IP. Keys are prefixed so the two namespaces never collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(userIDKey); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		return "ip:" + c.ClientIP()
	}
}

// RouteLimit overrides the default bucket for one route.
type RouteLimit struct {
	RPS   float64
	Burst int
}

// RateOption customizes a RateLimiter.
type RateOption func(*RateLimiter)

// WithRouteLimit gives method+path (the registered Gin route, e.g.
// "/api/v1/merchant/buy") a separate bucket per caller.
func WithRouteLimit(method, path string, rps float64, burst int) RateOption {
	return func(rl *RateLimiter) {
		if burst <= 0 {
			burst = 1
		}
		rl.routes[method+" "+path] = RouteLimit{RPS: rps, Burst: burst}
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Idle buckets are evicted
// opportunistically every cleanupEvery lookups. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	routes   map[string]RouteLimit
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

const cleanupEvery = 5000

// NewRateLimiter builds a limiter with the default rps and burst (burst <= 0
// is coerced to 1) and any per-route overrides.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc, opts ...RateOption) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		routes:   make(map[string]RouteLimit),
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// bucketFor resolves the bucket key and limits for the request's route.
func (rl *RateLimiter) bucketFor(c *gin.Context) (key string, limit rate.Limit, burst int) {
	key = rl.keyFn(c)
	route := c.Request.Method + " " + c.FullPath()
	if rt, ok := rl.routes[route]; ok {
		return key + "|" + route, rate.Limit(rt.RPS), rt.Burst
	}
	return key, rl.rps, rl.burst
}

// getVisitor returns the limiter for key, creating it with limit and burst.
// Cleanup runs before the lookup so a stale entry for key is replaced too.
func (rl *RateLimiter) getVisitor(key string, limit rate.Limit, burst int) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= cleanupEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(limit, burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay that should not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. Rejected requests get 429 with the standard
// error envelope (code "too_many_requests") and a Retry-After computed from
// the bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key, limit, burst := rl.bucketFor(c)
		res := rl.getVisitor(key, limit, burst).Reserve()
		delay := res.Delay()
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		if res.OK() {
			// Give the token back; the client will retry later.
			res.Cancel()
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observability.RateLimitedTotal.WithLabelValues(path).Inc()

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

// retryAfterSeconds rounds the wait up to whole seconds, at least 1.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 || d == rate.InfDuration {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
