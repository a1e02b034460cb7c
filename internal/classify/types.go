// Package classify implements the tiered intent-classification cascade:
// emergency keyword bypass, fuzzy keyword matching with context boost,
// semantic embedding matching and a remote-model classifier with a
// smart fallback retry. Cheap deterministic detectors run first so the
// expensive ones only see what they could not handle.
package classify

import (
	"context"
	"time"

	"github.com/hostel-concierge/internal/conversation"
)

// Classification sources, named after the tier that produced the result.
const (
	SourceEmergency = "emergency"
	SourceFuzzy     = "fuzzy"
	SourceSemantic  = "semantic"
	SourceLLM       = "llm"
)

// Reserved intent labels.
const (
	IntentEmergency = "emergency"
	IntentUnknown   = "unknown"
)

// ActionEmergency is the dedicated action attached to Tier 1 matches.
const ActionEmergency = "emergency"

// Result is the outcome of classifying one message. Results are
// immutable after creation; the Layer2 fallback produces a new Result
// rather than mutating the original.
type Result struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Action       string            `json:"action,omitempty"`
	Entities     map[string]string `json:"entities,omitempty"`
	Source       string            `json:"source"`
	Language     string            `json:"language,omitempty"`
	LanguageConf float64           `json:"language_confidence,omitempty"`
	Model        string            `json:"model,omitempty"`
	Elapsed      time.Duration     `json:"elapsed,omitempty"`
	ContextBoost bool              `json:"context_boost,omitempty"`
}

// Tier is one classifier stage in the cascade. Attempt returns the
// classification and true when the tier is confident enough to answer;
// false means fall through to the next tier. Tiers never return errors
// to the cascade: an unavailable capability is a miss, not a crash.
type Tier interface {
	Name() string
	Attempt(ctx context.Context, text string, conv *conversation.State) (*Result, bool)
}
