package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hostel-concierge/internal/ai/local"
	"github.com/hostel-concierge/internal/cache"
	"github.com/hostel-concierge/internal/config"
)

func semanticIntents() []config.Intent {
	return []config.Intent{
		{Name: "wifi", Examples: []string{"what is the wifi password", "how do I connect to the internet"}},
		{Name: "booking", Examples: []string{"I want to book a bed", "do you have rooms available"}},
		{Name: "checkout", Examples: []string{"what time is checkout", "can I store my luggage after checkout"}},
	}
}

func newTestSemantic(t *testing.T, threshold float64) *SemanticMatcher {
	t.Helper()
	sm, err := NewSemanticMatcher(semanticIntents(), local.NewStubEmbedder(256), nil, threshold, zaptest.NewLogger(t))
	require.NoError(t, err)
	return sm
}

func TestSemanticExactExampleMatches(t *testing.T) {
	sm := newTestSemantic(t, 0.62)

	res, ok := sm.Match(context.Background(), "what is the wifi password")
	require.True(t, ok)
	assert.Equal(t, "wifi", res.Intent)
	assert.Equal(t, SourceSemantic, res.Source)
	assert.InDelta(t, 1.0, res.Confidence, 0.01)
}

func TestSemanticBelowThresholdMisses(t *testing.T) {
	// Threshold above 1 can never be met.
	sm := newTestSemantic(t, 1.01)

	_, ok := sm.Match(context.Background(), "what is the wifi password")
	assert.False(t, ok)
}

func TestSemanticMatchAllSortedNonIncreasing(t *testing.T) {
	// A tiny threshold keeps several intents in the result.
	sm := newTestSemantic(t, 0.001)

	matches := sm.MatchAll(context.Background(), "what is the wifi password after checkout")
	require.NotEmpty(t, matches)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity,
			"matches must be sorted by non-increasing similarity")
	}
	assert.Equal(t, "wifi", matches[0].Intent)

	// One entry per intent, not per example.
	seen := map[string]bool{}
	for _, m := range matches {
		assert.False(t, seen[m.Intent], "duplicate intent %s", m.Intent)
		seen[m.Intent] = true
	}
}

func TestSemanticMatchAllFiltersBelowThreshold(t *testing.T) {
	// Nothing can clear a threshold above 1; the result must be empty,
	// not a list of weak matches.
	sm := newTestSemantic(t, 1.01)

	matches := sm.MatchAll(context.Background(), "unrelated gibberish zzz")
	assert.Empty(t, matches)

	// At a workable threshold only intents that clear it survive.
	sm = newTestSemantic(t, 0.62)
	matches = sm.MatchAll(context.Background(), "what is the wifi password")
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, 0.62)
	}
}

func TestSemanticUsesEmbeddingCache(t *testing.T) {
	ec, err := cache.NewEmbeddingCache(100, 0, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ec.Close()

	sm, err := NewSemanticMatcher(semanticIntents(), local.NewStubEmbedder(256), ec, 0.62, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, ok := sm.Match(context.Background(), "what is the wifi password")
	require.True(t, ok)
	_, ok = sm.Match(context.Background(), "what is the wifi password")
	require.True(t, ok)

	stats := ec.Stats()
	assert.Positive(t, stats.L1Misses, "first lookup misses")
}

func TestSemanticRequiresEmbedder(t *testing.T) {
	_, err := NewSemanticMatcher(semanticIntents(), nil, nil, 0.62, zaptest.NewLogger(t))
	assert.Error(t, err)
}
