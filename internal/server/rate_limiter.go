// Package server implements token bucket rate limiters for per-connection
// and per-address throttling that protect the hub and the stores from abuse.
package server

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

// full reports whether the bucket has refilled completely, meaning the
// limiter carries no state worth keeping.
func (rl *rateLimiter) full() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	elapsed := time.Since(rl.lastCheck).Seconds()
	return rl.tokens+elapsed*rl.rate >= rl.capacity
}

// maxTrackedKeys bounds the keyed limiter's memory; idle buckets are swept
// when it is exceeded.
const maxTrackedKeys = 10000

// keyedRateLimiter keeps one bucket per key, typically a client address.
type keyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiter
	cfg      RateLimitConfig
}

func newKeyedRateLimiter(cfg RateLimitConfig) *keyedRateLimiter {
	return &keyedRateLimiter{
		limiters: make(map[string]*rateLimiter),
		cfg:      cfg,
	}
}

func (k *keyedRateLimiter) allow(key string) bool {
	k.mu.Lock()
	rl, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxTrackedKeys {
			k.sweepLocked()
		}
		rl = newRateLimiter(k.cfg.Burst, k.cfg.RefillInterval)
		k.limiters[key] = rl
	}
	k.mu.Unlock()

	return rl.allow()
}

func (k *keyedRateLimiter) sweepLocked() {
	for key, rl := range k.limiters {
		if rl.full() {
			delete(k.limiters, key)
		}
	}
}
