package classify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/ai/router"
	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
)

// History windows for the two classifier passes. The retry sees more
// context because the first pass already failed to produce a confident
// answer from the narrow view.
const (
	historyWindowNarrow = 6
	historyWindowWide   = 12
)

// LLMClassifier is Tier 4: a remote chat model asked to pick one
// catalog intent and report the message language. A second, wider pass
// with a larger model backs up low-confidence first answers.
type LLMClassifier struct {
	router    *router.Router
	intents   []config.Intent
	known     map[string]bool
	languages []string
	model     string
	wideModel string
	logger    *zap.Logger
}

// NewLLMClassifier wires the classifier to the provider router. model
// and wideModel may be empty to use each provider's default.
func NewLLMClassifier(r *router.Router, intents []config.Intent, languages []string, model, wideModel string, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]bool, len(intents)+2)
	for _, in := range intents {
		known[in.Name] = true
	}
	known[IntentUnknown] = true
	known[IntentEmergency] = true

	return &LLMClassifier{
		router:    r,
		intents:   intents,
		known:     known,
		languages: languages,
		model:     model,
		wideModel: wideModel,
		logger:    logger.Named("llm"),
	}
}

// Classify asks the model for an intent. wide selects the retry
// configuration: the larger model and the longer history window.
func (lc *LLMClassifier) Classify(ctx context.Context, text string, conv *conversation.State, wide bool) (*Result, error) {
	window := historyWindowNarrow
	model := lc.model
	if wide {
		window = historyWindowWide
		model = lc.wideModel
	}

	messages := []router.Message{
		{Role: "system", Content: BuildSystemPrompt(lc.intents, lc.languages)},
	}
	if conv != nil {
		for _, m := range conv.RecentHistory(window) {
			role := m.Role
			if role != "user" && role != "assistant" {
				role = "user"
			}
			messages = append(messages, router.Message{Role: role, Content: m.Text})
		}
	}
	messages = append(messages, router.Message{Role: "user", Content: text})

	resp, err := lc.router.Chat(ctx, &router.ChatRequest{
		Messages:    messages,
		MaxTokens:   256,
		Temperature: 0.1,
		JSONMode:    true,
		Model:       model,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}

	parsed := router.ParseJSONObject(resp.Content)
	result := lc.resultFromFields(parsed)
	result.Model = resp.Model
	result.Elapsed = resp.Duration

	lc.logger.Debug("llm classification",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.String("language", result.Language),
		zap.Bool("wide", wide),
		zap.Duration("elapsed", resp.Duration))
	return result, nil
}

// Name identifies the tier.
func (lc *LLMClassifier) Name() string {
	return SourceLLM
}

// Attempt implements Tier. The model always produces an answer, even
// if that answer is unknown, so the tier only falls through on
// transport errors.
func (lc *LLMClassifier) Attempt(ctx context.Context, text string, conv *conversation.State) (*Result, bool) {
	result, err := lc.Classify(ctx, text, conv, false)
	if err != nil {
		lc.logger.Warn("classifier unavailable", zap.Error(err))
		return nil, false
	}
	return result, true
}

// resultFromFields turns the model's JSON answer into a Result.
// Off-catalog intent names are normalized to unknown rather than
// trusted; confidences are clamped to [0, 1].
func (lc *LLMClassifier) resultFromFields(fields map[string]interface{}) *Result {
	result := &Result{
		Intent:     IntentUnknown,
		Confidence: 0,
		Source:     SourceLLM,
	}

	if raw, ok := fields["intent"].(string); ok && raw != "" {
		if lc.known[raw] {
			result.Intent = raw
		} else {
			lc.logger.Warn("off-catalog intent from model", zap.String("intent", raw))
		}
	}
	if result.Intent != IntentUnknown {
		result.Confidence = clamp01(floatField(fields, "confidence"))
	}
	if lang, ok := fields["language"].(string); ok {
		result.Language = lang
		result.LanguageConf = clamp01(floatField(fields, "language_confidence"))
	}
	if raw, ok := fields["entities"].(map[string]interface{}); ok && len(raw) > 0 {
		result.Entities = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				result.Entities[k] = s
			} else {
				result.Entities[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	return result
}

func floatField(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
