package classify

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/ai/local"
	"github.com/hostel-concierge/internal/cache"
	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
)

// exampleVector is one pre-embedded catalog example.
type exampleVector struct {
	intent string
	text   string
	vec    []float32
}

// SemanticMatch is one scored intent from MatchAll.
type SemanticMatch struct {
	Intent     string
	Example    string
	Similarity float64
}

// SemanticMatcher is Tier 3: cosine similarity between the message
// embedding and pre-embedded catalog examples. All example vectors are
// computed once at construction; per-message embeddings go through the
// two-tier cache.
type SemanticMatcher struct {
	embedder  local.Embedder
	cache     *cache.EmbeddingCache
	threshold float64
	examples  []exampleVector
	logger    *zap.Logger
}

// NewSemanticMatcher embeds every catalog example up front. An intent
// whose example fails to embed is logged and skipped, not fatal: the
// tier degrades to whatever subset embedded cleanly.
func NewSemanticMatcher(intents []config.Intent, embedder local.Embedder, embedCache *cache.EmbeddingCache, threshold float64, logger *zap.Logger) (*SemanticMatcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("semantic matcher requires an embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = 0.62
	}

	sm := &SemanticMatcher{
		embedder:  embedder,
		cache:     embedCache,
		threshold: threshold,
		logger:    logger.Named("semantic"),
	}

	for _, in := range intents {
		for _, ex := range in.Examples {
			vec, err := embedder.Embed(ex)
			if err != nil {
				sm.logger.Warn("example embedding failed, skipping",
					zap.String("intent", in.Name),
					zap.String("example", ex),
					zap.Error(err))
				continue
			}
			sm.examples = append(sm.examples, exampleVector{intent: in.Name, text: ex, vec: vec})
		}
	}

	if len(sm.examples) == 0 {
		return nil, fmt.Errorf("no catalog examples could be embedded")
	}
	sm.logger.Info("semantic matcher ready",
		zap.Int("examples", len(sm.examples)),
		zap.Float64("threshold", threshold))
	return sm, nil
}

// Match returns the single best intent if its similarity clears the
// threshold. Embedding failures are treated as a miss so the cascade
// falls through to the next tier.
func (sm *SemanticMatcher) Match(ctx context.Context, text string) (*Result, bool) {
	matches := sm.MatchAll(ctx, text)
	if len(matches) == 0 {
		return nil, false
	}
	best := matches[0]
	return &Result{
		Intent:     best.Intent,
		Confidence: best.Similarity,
		Source:     SourceSemantic,
	}, true
}

// MatchAll returns every intent whose best example clears the
// threshold, sorted by similarity, non-increasing. Ties keep catalog
// order. An empty slice means nothing scored high enough or the
// message could not be embedded.
func (sm *SemanticMatcher) MatchAll(ctx context.Context, text string) []SemanticMatch {
	vec, ok := sm.embedText(ctx, text)
	if !ok {
		return nil
	}

	byIntent := make(map[string]int)
	var scored []SemanticMatch
	for _, ex := range sm.examples {
		sim := cosineSimilarity(vec, ex.vec)
		if idx, seen := byIntent[ex.intent]; seen {
			if sim > scored[idx].Similarity {
				scored[idx].Similarity = sim
				scored[idx].Example = ex.text
			}
			continue
		}
		byIntent[ex.intent] = len(scored)
		scored = append(scored, SemanticMatch{Intent: ex.intent, Example: ex.text, Similarity: sim})
	}

	var out []SemanticMatch
	for _, m := range scored {
		if m.Similarity >= sm.threshold {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// Name identifies the tier.
func (sm *SemanticMatcher) Name() string {
	return SourceSemantic
}

// Attempt implements Tier.
func (sm *SemanticMatcher) Attempt(ctx context.Context, text string, _ *conversation.State) (*Result, bool) {
	return sm.Match(ctx, text)
}

func (sm *SemanticMatcher) embedText(ctx context.Context, text string) ([]float32, bool) {
	if sm.cache != nil {
		if vec, hit := sm.cache.Get(ctx, text); hit {
			return vec, true
		}
	}
	vec, err := sm.embedder.Embed(text)
	if err != nil {
		sm.logger.Warn("message embedding failed", zap.Error(err))
		return nil, false
	}
	if sm.cache != nil {
		sm.cache.Set(ctx, text, vec)
	}
	return vec, true
}

// cosineSimilarity over float32 vectors. Mismatched or zero-length
// inputs score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
