package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/dnaforca/backend/internal/transport/http/response"
)

// maxTrackedIPs bounds the per-IP limiter map. When exceeded the map is
// reset, which briefly refills every caller's burst but keeps memory flat.
const maxTrackedIPs = 1024

type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedIPs {
		l.limiters = make(map[string]*rate.Limiter)
	}
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter.Allow()
}

// WebhookGuard protects the unauthenticated webhook endpoint: it caps the
// request body and rate limits per client IP.
func WebhookGuard(ratePerSec float64, burst int, maxBody int64) gin.HandlerFunc {
	limiter := &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(ratePerSec),
		burst:    burst,
	}

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			response.Error(c, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		c.Next()
	}
}
