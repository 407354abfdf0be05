package internal

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per key. A zero limit disables limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// Forget drops the bucket for key; called when a connection goes away.
func (r *RateLimiter) Forget(key string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}
