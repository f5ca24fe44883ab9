package mux

import (
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter tracks per-function token-bucket limiters. A function with
// no configured limit is unbounded. Grounded on the same per-key
// rate.Limiter-map pattern used for per-IP limiting elsewhere in the
// stack, keyed here by function name instead of address.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Set installs or replaces the limit for a function. rps <= 0 removes any
// limit.
func (rl *rateLimiter) Set(function string, rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rps <= 0 {
		delete(rl.limiters, function)
		return
	}
	rl.limiters[function] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow reports whether a request to function may proceed. Functions with
// no configured limiter are always allowed.
func (rl *rateLimiter) Allow(function string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[function]
	rl.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}
