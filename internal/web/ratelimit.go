package web

import (
	"sync"

	"golang.org/x/time/rate"
)

// IPRateLimiter throttles credential endpoints per client IP.
type IPRateLimiter struct {
	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewIPRateLimiter constructs a limiter allowing limit events per second
// with the given burst per IP.
func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow reports whether the client may proceed.
func (limiter *IPRateLimiter) Allow(clientIP string) bool {
	limiter.mutex.Lock()
	perClient, exists := limiter.limiters[clientIP]
	if !exists {
		perClient = rate.NewLimiter(limiter.limit, limiter.burst)
		limiter.limiters[clientIP] = perClient
	}
	limiter.mutex.Unlock()
	return perClient.Allow()
}
