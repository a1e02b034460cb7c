package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestResolver() *LanguageResolver {
	return NewLanguageResolver([]string{"en", "ms", "zh"})
}

func TestResolveResponseLanguageBoundary(t *testing.T) {
	lr := newTestResolver()

	// Exactly at the threshold the detection wins.
	assert.Equal(t, "zh", lr.ResolveResponseLanguage("zh", "en", 0.70))
	// Just below it the sticky language holds.
	assert.Equal(t, "en", lr.ResolveResponseLanguage("zh", "en", 0.69))
	assert.Equal(t, "ms", lr.ResolveResponseLanguage("ms", "en", 0.95))
}

func TestResolveResponseLanguageUnrecognized(t *testing.T) {
	lr := newTestResolver()

	assert.Equal(t, "en", lr.ResolveResponseLanguage("", "en", 0.99))
	assert.Equal(t, "en", lr.ResolveResponseLanguage("unknown", "en", 0.99))
	assert.Equal(t, "en", lr.ResolveResponseLanguage("fr", "en", 0.99), "unsupported language never overrides")
}

func TestShouldPersistLanguageBoundary(t *testing.T) {
	lr := newTestResolver()

	assert.True(t, lr.ShouldPersistLanguage("zh", "en", 0.80))
	assert.False(t, lr.ShouldPersistLanguage("zh", "en", 0.79))
	// A reply-level override at 0.75 answers in zh but must not rewrite
	// the sticky language.
	assert.Equal(t, "zh", lr.ResolveResponseLanguage("zh", "en", 0.75))
	assert.False(t, lr.ShouldPersistLanguage("zh", "en", 0.75))
}

func TestShouldPersistLanguageSameLanguageNoop(t *testing.T) {
	lr := newTestResolver()

	assert.False(t, lr.ShouldPersistLanguage("en", "en", 0.99))
	assert.False(t, lr.ShouldPersistLanguage("unknown", "en", 0.99))
}
