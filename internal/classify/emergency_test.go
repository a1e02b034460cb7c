package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEmergencyDetectsAcrossLanguages(t *testing.T) {
	det := NewEmergencyDetector(nil, zaptest.NewLogger(t))

	cases := map[string]string{
		"there is a FIRE in the kitchen": "FIRE",
		"kebakaran di tingkat dua":       "kebakaran",
		"有人着火了快来":                        "着火",
		"call an ambulance please":       "ambulance",
	}
	for text, keyword := range cases {
		matched, ok := det.Detect(text)
		require.True(t, ok, "expected emergency for %q", text)
		assert.Equal(t, keyword, matched)
	}
}

func TestEmergencyWordBoundary(t *testing.T) {
	det := NewEmergencyDetector(nil, zaptest.NewLogger(t))

	_, ok := det.Detect("I saw a firefly outside")
	assert.False(t, ok, "fire must not match inside firefly")

	_, ok = det.Detect("the campfires were nice")
	assert.False(t, ok)
}

func TestEmergencyAttemptShortCircuits(t *testing.T) {
	det := NewEmergencyDetector(nil, zaptest.NewLogger(t))

	res, ok := det.Attempt(context.Background(), "help, theft in dorm 3", nil)
	require.True(t, ok)
	assert.Equal(t, IntentEmergency, res.Intent)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, ActionEmergency, res.Action)
	assert.Equal(t, SourceEmergency, res.Source)
	assert.Equal(t, "theft", res.Entities["keyword"])
}

func TestEmergencyNoMatchFallsThrough(t *testing.T) {
	det := NewEmergencyDetector(nil, zaptest.NewLogger(t))

	_, ok := det.Attempt(context.Background(), "what time is checkout", nil)
	assert.False(t, ok)
}
