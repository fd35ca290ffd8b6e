package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// clientLimiters holds one token bucket per client IP. Idle entries expire so
// the map does not grow with every address ever seen.
type clientLimiters struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

func newClientLimiters(r rate.Limit, b int) *clientLimiters {
	return &clientLimiters{
		limiters: cache.New(10*time.Minute, 20*time.Minute),
		r:        r,
		b:        b,
	}
}

func (c *clientLimiters) get(ip string) *rate.Limiter {
	if item, found := c.limiters.Get(ip); found {
		if limiter, ok := item.(*rate.Limiter); ok {
			return limiter
		}
	}
	limiter := rate.NewLimiter(c.r, c.b)
	c.limiters.SetDefault(ip, limiter)
	return limiter
}

// RateLimiter is a middleware for per-IP rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiters := newClientLimiters(r, b)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
