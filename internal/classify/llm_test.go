package classify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hostel-concierge/internal/ai/router"
	"github.com/hostel-concierge/internal/config"
)

// newOllamaStub serves canned classifier answers in the Ollama chat
// response shape. answers are returned in call order; the last one
// repeats.
func newOllamaStub(t *testing.T, answers []string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		idx := int(n) - 1
		if idx >= len(answers) {
			idx = len(answers) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message": {"content": %q}}`, answers[idx])
	}))
}

func newTestClassifier(t *testing.T, serverURL string) *LLMClassifier {
	t.Helper()
	r := router.New(&router.Config{
		OllamaURL:       serverURL,
		DefaultProvider: router.ProviderOllama,
		RequestTimeout:  5 * time.Second,
	}, zaptest.NewLogger(t))
	intents := []config.Intent{
		{Name: "wifi", Keywords: []string{"wifi", "password"}},
		{Name: "booking", Keywords: []string{"book", "room"}},
	}
	return NewLLMClassifier(r, intents, []string{"en", "ms", "zh"}, "", "", zaptest.NewLogger(t))
}

func TestLLMClassifyParsesAnswer(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaStub(t, []string{
		`{"intent": "wifi", "confidence": 0.92, "language": "en", "language_confidence": 0.95, "entities": {"topic": "password"}}`,
	}, &calls)
	defer srv.Close()

	lc := newTestClassifier(t, srv.URL)
	res, err := lc.Classify(context.Background(), "whats the wifi pass", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "wifi", res.Intent)
	assert.InDelta(t, 0.92, res.Confidence, 0.001)
	assert.Equal(t, "en", res.Language)
	assert.InDelta(t, 0.95, res.LanguageConf, 0.001)
	assert.Equal(t, "password", res.Entities["topic"])
	assert.Equal(t, SourceLLM, res.Source)
	assert.Positive(t, res.Elapsed)
}

func TestLLMOffCatalogIntentNormalizedToUnknown(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaStub(t, []string{
		`{"intent": "pizza_delivery", "confidence": 0.99}`,
	}, &calls)
	defer srv.Close()

	lc := newTestClassifier(t, srv.URL)
	res, err := lc.Classify(context.Background(), "hello", nil, false)
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, res.Intent)
	assert.Zero(t, res.Confidence)
}

func TestLLMUnparsableAnswerIsUnknownNotError(t *testing.T) {
	var calls atomic.Int64
	srv := newOllamaStub(t, []string{"I think the guest wants wifi maybe"}, &calls)
	defer srv.Close()

	lc := newTestClassifier(t, srv.URL)
	res, err := lc.Classify(context.Background(), "hello", nil, false)
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, res.Intent)
}

func TestLLMAttemptMissesOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	lc := newTestClassifier(t, srv.URL)
	_, ok := lc.Attempt(context.Background(), "hello", nil)
	assert.False(t, ok)
}
