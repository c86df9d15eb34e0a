package middleware

import (
	"sync"
	"time"

	"storefront-orders/internal/apperr"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Authenticated callers are
// keyed by user id, anonymous ones by client IP.
type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		callers: make(map[string]*limiterEntry),
		rate:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     10 * time.Minute,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if e, ok := rl.callers[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	// Opportunistic sweep so idle callers do not accumulate.
	for k, e := range rl.callers {
		if now.Sub(e.lastSeen) > rl.ttl {
			delete(rl.callers, k)
		}
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.callers[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if actor := CurrentActor(c); actor.Role != "" {
			key = "user:" + actor.UserID.String()
		}
		if !rl.limiter(key).Allow() {
			AbortWithError(c, apperr.New(apperr.KindRateLimited, apperr.CodeRateLimited, "too many requests, slow down"))
			return
		}
		c.Next()
	}
}
