package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, perMinute, perHour int, staff ...string) (*RateLimiter, *FakeClock) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: perMinute,
		RequestsPerHour:   perHour,
		Staff:             staff,
	}, clock, zaptest.NewLogger(t))
	t.Cleanup(rl.Close)
	return rl, clock
}

func TestRateLimiterPerMinuteCeiling(t *testing.T) {
	rl, _ := newTestLimiter(t, 3, 100)

	for i := 0; i < 3; i++ {
		res := rl.Check("guest-1")
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res := rl.Check("guest-1")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, "per-minute limit exceeded", res.Reason)
}

func TestRateLimiterMinuteWindowSlides(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, 100)

	assert.True(t, rl.Check("guest-1").Allowed)
	assert.True(t, rl.Check("guest-1").Allowed)
	assert.False(t, rl.Check("guest-1").Allowed)

	clock.Advance(61 * time.Second)
	assert.True(t, rl.Check("guest-1").Allowed)
}

func TestRateLimiterHourlyCeiling(t *testing.T) {
	rl, clock := newTestLimiter(t, 100, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Check("guest-1").Allowed)
		clock.Advance(2 * time.Minute)
	}

	res := rl.Check("guest-1")
	assert.False(t, res.Allowed)
	assert.Equal(t, "hourly limit exceeded", res.Reason)
	// Oldest timestamp is 10 minutes old, so it exits the window in 50.
	assert.Equal(t, 50*time.Minute, res.RetryAfter)

	clock.Advance(51 * time.Minute)
	assert.True(t, rl.Check("guest-1").Allowed)
}

func TestRateLimiterDeniedChecksDoNotCount(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, 100)

	assert.True(t, rl.Check("guest-1").Allowed)
	// Hammering while denied must not extend the window.
	for i := 0; i < 20; i++ {
		assert.False(t, rl.Check("guest-1").Allowed)
		clock.Advance(time.Second)
	}
	clock.Advance(41 * time.Second) // 61s after the single allowed request
	assert.True(t, rl.Check("guest-1").Allowed)
}

func TestRateLimiterStaffBypass(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 1, "staff-maria")

	for i := 0; i < 50; i++ {
		res := rl.Check("staff-maria")
		assert.True(t, res.Allowed)
	}
	// Staff checks are never recorded.
	assert.Equal(t, 0, rl.Senders())
}

func TestRateLimiterSendersAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, 100)

	assert.True(t, rl.Check("guest-1").Allowed)
	assert.False(t, rl.Check("guest-1").Allowed)
	assert.True(t, rl.Check("guest-2").Allowed)
}

func TestRateLimiterSweepRemovesIdleWindows(t *testing.T) {
	rl, clock := newTestLimiter(t, 10, 100)

	rl.Check("guest-1")
	rl.Check("guest-2")
	assert.Equal(t, 2, rl.Senders())

	clock.Advance(2 * time.Hour)
	rl.sweep()
	assert.Equal(t, 0, rl.Senders())
}
