package ratelimit

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketExhaustsAndReportsWait(t *testing.T) {
	bucket := NewTokenBucket(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := bucket.Allow()
		assert.True(t, allowed)
	}

	allowed, wait := bucket.Allow()
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRateLimiterIsolatesUsersAndActions(t *testing.T) {
	rl := NewRateLimiter()

	// Exhaust the conversation bucket for one user.
	for i := 0; i < 5; i++ {
		allowed, _ := rl.Allow("user-1", "create_conversation")
		assert.True(t, allowed)
	}
	allowed, _ := rl.Allow("user-1", "create_conversation")
	assert.False(t, allowed)

	// Other users and other actions are unaffected.
	allowed, _ = rl.Allow("user-2", "create_conversation")
	assert.True(t, allowed)
	allowed, _ = rl.Allow("user-1", "send_message")
	assert.True(t, allowed)
}

func TestCleanupRoutineStopsOnContextCancel(t *testing.T) {
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	rl := NewRateLimiter()
	rl.StartCleanupRoutine(ctx)

	cancel()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCleanupDropsStaleBuckets(t *testing.T) {
	rl := NewRateLimiter()

	rl.Allow("user-1", "send_message")
	rl.buckets["user-1:send_message"].lastRefill = time.Now().Add(-2 * time.Hour)

	rl.Cleanup()

	assert.Empty(t, rl.buckets)
}
