package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the number of per-client limiters kept in
// memory. Without a cap, a gateway facing many short-lived or rotating
// client IDs would grow this map without bound.
const maxTrackedClients = 4096

// RateLimiter enforces a per-client requests-per-minute budget using a
// token bucket (golang.org/x/time/rate) per clientID. rpm<=0 disables
// limiting entirely.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter. burst allows short request bursts
// above the steady rpm rate.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	return &RateLimiter{rpm: rpm, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Enabled reports whether rate limiting is active.
func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow reports whether clientID may make another request right now,
// consuming one token as a side effect.
func (r *RateLimiter) Allow(clientID string) bool {
	if !r.Enabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[clientID]
	if !ok {
		if len(r.limiters) >= maxTrackedClients {
			// Evict an arbitrary entry rather than let the map grow
			// unbounded; a client evicted mid-burst simply gets a
			// fresh bucket, which is the conservative (more-permissive)
			// direction to fail in.
			for k := range r.limiters {
				delete(r.limiters, k)
				break
			}
		}
		perSecond := rate.Limit(r.rpm) / 60
		limiter = rate.NewLimiter(perSecond, r.rpm+r.burst)
		r.limiters[clientID] = limiter
	}
	return limiter.Allow()
}
