// Package server throttles inbound frames per connection with a token
// bucket, protecting the dispatcher from clients that flood the socket.
package server

import (
	"math"
	"sync"
	"time"
)

// rateLimiter is a token bucket sized to the configured burst. Tokens
// refill continuously at burst-per-interval; each inbound frame consumes
// one.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	capacity := float64(burst)
	return &rateLimiter{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: capacity / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

// allow consumes one token, refilling the bucket for the time elapsed
// since the previous call. It reports false when the budget is exhausted.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.tokens = math.Min(rl.capacity, rl.tokens+elapsed*rl.refillRate)
	}
	rl.lastRefill = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
