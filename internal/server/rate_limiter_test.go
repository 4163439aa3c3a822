package server

import (
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected message %d to be allowed", i)
		}
	}
	if rl.allow() {
		t.Error("Expected limiter to reject after burst")
	}
	if rl.full() {
		t.Error("Expected drained bucket not to be full")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)

	if !rl.allow() {
		t.Fatal("Expected first message to be allowed")
	}
	if rl.allow() {
		t.Fatal("Expected second message to be rejected")
	}
	time.Sleep(40 * time.Millisecond)
	if !rl.allow() {
		t.Error("Expected bucket to refill")
	}
}

func TestRateLimiterSanitizesArguments(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("Expected capacity to default to 1")
	}
}

func TestKeyedRateLimiter(t *testing.T) {
	k := newKeyedRateLimiter(RateLimitConfig{Burst: 1, RefillInterval: time.Minute})

	if !k.allow("10.0.0.1") {
		t.Fatal("Expected first request to be allowed")
	}
	if k.allow("10.0.0.1") {
		t.Error("Expected second request from same key to be rejected")
	}
	if !k.allow("10.0.0.2") {
		t.Error("Expected other keys to have their own bucket")
	}
}

func TestKeyedRateLimiterSweepsIdleBuckets(t *testing.T) {
	k := newKeyedRateLimiter(RateLimitConfig{Burst: 1, RefillInterval: time.Minute})
	k.limiters["idle"] = newRateLimiter(1, time.Minute)
	busy := newRateLimiter(1, time.Minute)
	busy.allow()
	k.limiters["busy"] = busy

	k.mu.Lock()
	k.sweepLocked()
	k.mu.Unlock()

	if _, ok := k.limiters["idle"]; ok {
		t.Error("Expected full bucket to be swept")
	}
	if _, ok := k.limiters["busy"]; !ok {
		t.Error("Expected drained bucket to be kept")
	}
}
