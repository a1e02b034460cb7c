package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/conversation"
)

// SourceDegraded marks the fallback result produced when every tier
// missed or was unavailable.
const SourceDegraded = "degraded"

// Cascade runs the tiers in order and applies the wide retry when the
// remote classifier answers without conviction.
type Cascade struct {
	tiers        []Tier
	llm          *LLMClassifier
	layer2Cutoff float64
	logger       *zap.Logger
}

// NewCascade assembles the cascade. tiers run in the given order; llm
// may be nil when no provider is configured, in which case the wide
// retry is disabled. layer2Cutoff is the confidence below which an llm
// answer triggers the retry.
func NewCascade(tiers []Tier, llm *LLMClassifier, layer2Cutoff float64, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	if layer2Cutoff <= 0 {
		layer2Cutoff = 0.6
	}
	return &Cascade{
		tiers:        tiers,
		llm:          llm,
		layer2Cutoff: layer2Cutoff,
		logger:       logger.Named("cascade"),
	}
}

// Classify runs the message down the cascade. It always returns a
// non-nil Result: if every tier misses, the message is unknown rather
// than an error.
func (c *Cascade) Classify(ctx context.Context, text string, conv *conversation.State) *Result {
	for _, tier := range c.tiers {
		start := time.Now()
		result, ok := tier.Attempt(ctx, text, conv)
		if !ok {
			continue
		}
		if result.Elapsed == 0 {
			result.Elapsed = time.Since(start)
		}
		c.logger.Debug("tier answered",
			zap.String("tier", tier.Name()),
			zap.String("intent", result.Intent),
			zap.Float64("confidence", result.Confidence))
		return c.maybeRetryWide(ctx, text, conv, result)
	}

	c.logger.Warn("all tiers missed", zap.Int("tiers", len(c.tiers)))
	return &Result{Intent: IntentUnknown, Source: SourceDegraded}
}

// maybeRetryWide re-asks a larger model with more history when the
// cascade's answer falls below the cutoff, whichever tier produced it.
// The retry's answer replaces the original only when it is strictly
// more confident; the time spent on the retry is charged to the final
// result either way.
func (c *Cascade) maybeRetryWide(ctx context.Context, text string, conv *conversation.State, first *Result) *Result {
	if c.llm == nil || first.Confidence >= c.layer2Cutoff {
		return first
	}

	wide, err := c.llm.Classify(ctx, text, conv, true)
	if err != nil {
		c.logger.Warn("wide retry failed, keeping first answer", zap.Error(err))
		return first
	}

	if wide.Confidence > first.Confidence {
		wide.Elapsed += first.Elapsed
		c.logger.Debug("wide retry adopted",
			zap.String("intent", wide.Intent),
			zap.Float64("confidence", wide.Confidence),
			zap.Float64("first_confidence", first.Confidence))
		return wide
	}

	kept := *first
	kept.Elapsed += wide.Elapsed
	c.logger.Debug("wide retry discarded",
		zap.Float64("retry_confidence", wide.Confidence),
		zap.Float64("kept_confidence", first.Confidence))
	return &kept
}
