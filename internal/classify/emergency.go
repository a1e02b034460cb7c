package classify

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/conversation"
)

// defaultEmergencyPatterns covers English, Malay and Chinese terms a
// guest in genuine trouble is likely to type. Business config can
// extend or replace these per language.
var defaultEmergencyPatterns = map[string][]string{
	"en": {"fire", "ambulance", "police", "theft", "stolen", "robbery", "break[- ]?in", "emergency", "intruder"},
	"ms": {"kebakaran", "api", "ambulans", "polis", "kecurian", "dicuri", "rompakan", "kecemasan", "tolong polis"},
	"zh": {"火灾", "着火", "救护车", "报警", "警察", "小偷", "被偷", "抢劫", "紧急"},
}

// EmergencyDetector is Tier 1: a stateless multilingual keyword bypass.
// A match short-circuits the whole cascade at maximum confidence.
type EmergencyDetector struct {
	patterns []*regexp.Regexp
	logger   *zap.Logger
}

// NewEmergencyDetector compiles the per-language keyword sets. A nil
// or empty map falls back to the built-in patterns. Latin-script
// keywords are wrapped in word boundaries so "campfire stories" does
// not page anyone; `\b` does not reliably bound logographic-script
// tokens, so Chinese keywords match as substrings. That asymmetry
// matches long-observed production behavior and is kept deliberately.
func NewEmergencyDetector(patterns map[string][]string, logger *zap.Logger) *EmergencyDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(patterns) == 0 {
		patterns = defaultEmergencyPatterns
	}

	compiled := make([]*regexp.Regexp, 0, 32)
	for lang, words := range patterns {
		for _, w := range words {
			expr := w
			if lang != "zh" {
				expr = `\b(?:` + w + `)\b`
			}
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				logger.Warn("skipping bad emergency pattern",
					zap.String("language", lang),
					zap.String("pattern", w),
					zap.Error(err))
				continue
			}
			compiled = append(compiled, re)
		}
	}

	return &EmergencyDetector{
		patterns: compiled,
		logger:   logger.Named("emergency"),
	}
}

// Detect reports whether the message contains an emergency keyword and
// returns the matched text.
func (d *EmergencyDetector) Detect(text string) (string, bool) {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return "", false
	}
	for _, re := range d.patterns {
		if m := re.FindString(msg); m != "" {
			return m, true
		}
	}
	return "", false
}

// Name identifies the tier.
func (d *EmergencyDetector) Name() string {
	return SourceEmergency
}

// Attempt implements Tier. No context or history is consulted: an
// emergency is an emergency regardless of what came before.
func (d *EmergencyDetector) Attempt(_ context.Context, text string, _ *conversation.State) (*Result, bool) {
	matched, ok := d.Detect(text)
	if !ok {
		return nil, false
	}
	d.logger.Info("emergency keyword matched", zap.String("keyword", matched))
	return &Result{
		Intent:     IntentEmergency,
		Confidence: 1.0,
		Action:     ActionEmergency,
		Source:     SourceEmergency,
		Entities:   map[string]string{"keyword": matched},
	}, true
}
