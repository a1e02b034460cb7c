// Package policy provides the per-sender admission gate for inbound
// chat messages. Limits are enforced over sliding one-hour and
// one-minute windows of actual request timestamps, so a burst is never
// forgiven just because a calendar minute ticked over.
package policy

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimitConfig defines the admission ceilings.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	// Staff senders bypass the limiter entirely.
	Staff []string
	// SweepInterval controls how often empty windows are reclaimed.
	SweepInterval time.Duration
}

// DefaultRateLimitConfig returns the stock guest limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		RequestsPerHour:   60,
		SweepInterval:     5 * time.Minute,
	}
}

// RateLimitResult contains the outcome of an admission check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
	Remaining  int
}

// RateLimiter tracks request timestamps per sender over sliding windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	staff   map[string]bool
	config  RateLimitConfig
	clock   Clock
	logger  *zap.Logger
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter and starts its background sweep.
// A nil clock defaults to the system clock.
func NewRateLimiter(cfg RateLimitConfig, clock Clock, logger *zap.Logger) *RateLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	staff := make(map[string]bool, len(cfg.Staff))
	for _, s := range cfg.Staff {
		staff[s] = true
	}
	rl := &RateLimiter{
		windows: make(map[string][]time.Time),
		staff:   staff,
		config:  cfg,
		clock:   clock,
		logger:  logger.Named("ratelimit"),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Check decides whether a message from sender is admitted. Denied
// checks do not record a timestamp, so retrying after the hint does
// not push the window further out.
func (rl *RateLimiter) Check(sender string) RateLimitResult {
	if rl.staff[sender] {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	now := rl.clock.Now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := pruneBefore(rl.windows[sender], hourAgo)
	rl.windows[sender] = window

	if len(window) >= rl.config.RequestsPerHour {
		retry := window[0].Add(time.Hour).Sub(now)
		rl.logger.Debug("hourly ceiling reached",
			zap.String("sender", sender),
			zap.Duration("retry_after", retry))
		return RateLimitResult{
			Allowed:    false,
			RetryAfter: retry,
			Reason:     "hourly limit exceeded",
		}
	}

	minuteCount := 0
	oldestInMinute := time.Time{}
	for _, ts := range window {
		if !ts.Before(minuteAgo) {
			if oldestInMinute.IsZero() {
				oldestInMinute = ts
			}
			minuteCount++
		}
	}
	if minuteCount >= rl.config.RequestsPerMinute {
		retry := oldestInMinute.Add(time.Minute).Sub(now)
		rl.logger.Debug("per-minute ceiling reached",
			zap.String("sender", sender),
			zap.Duration("retry_after", retry))
		return RateLimitResult{
			Allowed:    false,
			RetryAfter: retry,
			Reason:     "per-minute limit exceeded",
		}
	}

	rl.windows[sender] = append(window, now)
	return RateLimitResult{
		Allowed:   true,
		Remaining: rl.config.RequestsPerMinute - minuteCount - 1,
	}
}

// Reset drops the window for a sender.
func (rl *RateLimiter) Reset(sender string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, sender)
}

// Senders returns the number of senders currently tracked.
func (rl *RateLimiter) Senders() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.done:
			return
		}
	}
}

// sweep removes windows that are empty after pruning, bounding memory
// for senders that stopped talking.
func (rl *RateLimiter) sweep() {
	hourAgo := rl.clock.Now().Add(-time.Hour)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for sender, window := range rl.windows {
		window = pruneBefore(window, hourAgo)
		if len(window) == 0 {
			delete(rl.windows, sender)
			removed++
		} else {
			rl.windows[sender] = window
		}
	}
	if removed > 0 {
		rl.logger.Debug("swept idle rate windows", zap.Int("removed", removed))
	}
}

// pruneBefore drops timestamps strictly older than cutoff. Windows are
// append-only, so the slice stays sorted.
func pruneBefore(window []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(window) && window[idx].Before(cutoff) {
		idx++
	}
	return window[idx:]
}
