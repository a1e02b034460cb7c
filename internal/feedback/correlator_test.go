package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/policy"
)

func testConfig() config.Feedback {
	return config.Feedback{
		Enabled:      true,
		Cooldown:     config.Duration(6 * time.Hour),
		AwaitTimeout: config.Duration(10 * time.Minute),
		SkipIntents:  []string{"greeting", "thanks", "goodbye"},
	}
}

func TestShouldAskBasicRules(t *testing.T) {
	clock := policy.NewFakeClock(time.Now())
	c := NewCorrelator(testConfig(), clock, zaptest.NewLogger(t))

	assert.True(t, c.ShouldAsk("guest-1", "wifi", "static_reply"))
	assert.False(t, c.ShouldAsk("guest-1", "greeting", "static_reply"), "skip-list intent")
	assert.False(t, c.ShouldAsk("guest-1", "emergency", "emergency"), "canned action")
	assert.False(t, c.ShouldAsk("guest-1", "booking", "start_workflow"), "workflow action")
}

func TestShouldAskDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCorrelator(cfg, nil, zaptest.NewLogger(t))

	assert.False(t, c.ShouldAsk("guest-1", "wifi", "static_reply"))
}

func TestShouldAskCooldown(t *testing.T) {
	clock := policy.NewFakeClock(time.Now())
	c := NewCorrelator(testConfig(), clock, zaptest.NewLogger(t))

	require.True(t, c.ShouldAsk("guest-1", "wifi", "static_reply"))
	c.MarkAwaiting("guest-1", Snapshot{Intent: "wifi"})

	// Within the cooldown the second ask is suppressed.
	clock.Advance(1 * time.Hour)
	assert.False(t, c.ShouldAsk("guest-1", "checkout", "static_reply"))

	// Another sender is unaffected.
	assert.True(t, c.ShouldAsk("guest-2", "checkout", "static_reply"))

	// After the cooldown elapses it is allowed again.
	clock.Advance(5*time.Hour + time.Minute)
	assert.True(t, c.ShouldAsk("guest-1", "checkout", "static_reply"))
}

func TestMarkAwaitingAndCorrelation(t *testing.T) {
	c := NewCorrelator(testConfig(), nil, zaptest.NewLogger(t))

	id := c.MarkAwaiting("guest-1", Snapshot{
		Intent:       "wifi",
		Confidence:   0.92,
		Source:       "fuzzy",
		ResponseTime: 40 * time.Millisecond,
	})
	require.NotEmpty(t, id)

	snap, ok := c.Awaiting("guest-1")
	require.True(t, ok)
	assert.Equal(t, id, snap.CorrelationID)
	assert.Equal(t, "wifi", snap.Intent)

	// A new solicitation overwrites the previous one.
	id2 := c.MarkAwaiting("guest-1", Snapshot{Intent: "checkout"})
	snap, ok = c.Awaiting("guest-1")
	require.True(t, ok)
	assert.Equal(t, id2, snap.CorrelationID)
	assert.NotEqual(t, id, id2)

	c.ClearAwaiting("guest-1")
	_, ok = c.Awaiting("guest-1")
	assert.False(t, ok)
}

func TestAwaitingExpiresAfterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.AwaitTimeout = config.Duration(50 * time.Millisecond)
	c := NewCorrelator(cfg, nil, zaptest.NewLogger(t))

	c.MarkAwaiting("guest-1", Snapshot{Intent: "wifi"})
	_, ok := c.Awaiting("guest-1")
	require.True(t, ok)

	time.Sleep(120 * time.Millisecond)
	_, ok = c.Awaiting("guest-1")
	assert.False(t, ok, "late replies are not feedback")
}

func TestDetectRating(t *testing.T) {
	c := NewCorrelator(testConfig(), nil, zaptest.NewLogger(t))

	up := []string{"👍", "thanks!", "very helpful", "yes", "terima kasih", "好的", "谢谢"}
	for _, text := range up {
		rating, ok := c.DetectRating(text)
		require.True(t, ok, "expected rating for %q", text)
		assert.Equal(t, RatingUp, rating, "text: %q", text)
	}

	down := []string{"👎", "not helpful", "wrong answer", "no", "teruk", "没用"}
	for _, text := range down {
		rating, ok := c.DetectRating(text)
		require.True(t, ok, "expected rating for %q", text)
		assert.Equal(t, RatingDown, rating, "text: %q", text)
	}

	neither := []string{"what time is breakfast", "wifi password", "nothing works in room 3", ""}
	for _, text := range neither {
		_, ok := c.DetectRating(text)
		assert.False(t, ok, "text %q is not feedback", text)
	}
}

func TestDetectRatingUpBeatsDown(t *testing.T) {
	c := NewCorrelator(testConfig(), nil, zaptest.NewLogger(t))

	// Contains both "good" and "bad"; the up list is checked first.
	rating, ok := c.DetectRating("good not bad")
	require.True(t, ok)
	assert.Equal(t, RatingUp, rating)
}

func TestBuildFeedbackRecord(t *testing.T) {
	clock := policy.NewFakeClock(time.Unix(1_700_000_000, 0))
	c := NewCorrelator(testConfig(), clock, zaptest.NewLogger(t))

	id := c.MarkAwaiting("guest-1", Snapshot{
		Intent:       "wifi",
		Confidence:   0.9,
		Source:       "semantic",
		Model:        "llama3.2",
		ResponseTime: 300 * time.Millisecond,
	})
	snap, ok := c.Awaiting("guest-1")
	require.True(t, ok)

	rec := c.BuildFeedbackRecord("guest-1", "thanks", RatingUp, snap)
	assert.Equal(t, id, rec.CorrelationID)
	assert.Equal(t, "guest-1", rec.Sender)
	assert.Equal(t, RatingUp, rec.Rating)
	assert.Equal(t, "wifi", rec.Intent)
	assert.Equal(t, "llama3.2", rec.Model)
	assert.Equal(t, clock.Now(), rec.RatedAt)
}
