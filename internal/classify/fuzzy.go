package classify

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
)

// Continuation signals inspected by MatchWithContext.
var (
	// A bare date-ish reply: "12/6", "2025-06-12", "tomorrow", "June 12".
	bareDateRe = regexp.MustCompile(`(?i)^(?:\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?|\d{4}-\d{2}-\d{2}|tomorrow|today|tonight|esok|明天|今天|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}|\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?)$`)

	// A bare affirmation: "yes", "ok", "boleh", "好的".
	affirmationRe = regexp.MustCompile(`(?i)^(?:yes|yeah|yep|ok(?:ay)?|sure|confirm|boleh|ya|baik|好|好的|可以|行)[.!]?$`)

	// Assistant turns that asked about dates or quoted a price.
	askedDatesRe  = regexp.MustCompile(`(?i)check[- ]?in date|which date|what date|when .*(?:arriv|check)|tarikh|哪天|几号入住`)
	quotedPriceRe = regexp.MustCompile(`(?i)\brm ?\d|per night|price|total|harga|一晚|价格`)
)

// FuzzyMatcher is Tier 2: a keyword-overlap scorer over the configured
// intent catalog, with typo tolerance from a Bleve index and a context
// boost for short continuation replies that only make sense given the
// previous turn.
type FuzzyMatcher struct {
	keywords map[string][]string
	order    []string
	minScore float64
	typos    *keywordIndex
	logger   *zap.Logger
}

// NewFuzzyMatcher builds the matcher from the intent catalog. The typo
// index is best-effort: if it cannot be built the matcher still works
// on exact keyword overlap.
func NewFuzzyMatcher(intents []config.Intent, minScore float64, logger *zap.Logger) *FuzzyMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minScore <= 0 {
		minScore = 0.5
	}

	keywords := make(map[string][]string, len(intents))
	order := make([]string, 0, len(intents))
	for _, in := range intents {
		if len(in.Keywords) == 0 {
			continue
		}
		lowered := make([]string, 0, len(in.Keywords))
		for _, k := range in.Keywords {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(k)))
		}
		keywords[in.Name] = lowered
		order = append(order, in.Name)
	}

	fm := &FuzzyMatcher{
		keywords: keywords,
		order:    order,
		minScore: minScore,
		logger:   logger.Named("fuzzy"),
	}

	typos, err := newKeywordIndex(keywords, logger)
	if err != nil {
		logger.Warn("typo index unavailable, exact keyword matching only", zap.Error(err))
	} else {
		fm.typos = typos
	}
	return fm
}

// Match scores the message against every intent's keyword list and
// returns the best match if it clears the minimum score.
func (fm *FuzzyMatcher) Match(text string) (*Result, bool) {
	normalized, tokens := normalizeMessage(text)
	if len(tokens) == 0 {
		return nil, false
	}

	// Tokens with no exact keyword hit anywhere get one typo lookup each.
	var typoIntents []map[string]bool
	if fm.typos != nil {
		for _, tok := range tokens {
			if len(tok) < 4 || fm.anyExactKeywordHit(tok) {
				continue
			}
			if hits := fm.typos.fuzzyLookup(tok); len(hits) > 0 {
				typoIntents = append(typoIntents, hits)
			}
		}
	}

	bestIntent := ""
	bestScore := 0.0
	for _, intent := range fm.order {
		words := fm.keywords[intent]
		credit := 0.0
		for _, kw := range words {
			if keywordHit(normalized, tokens, kw) {
				credit += 1.0
			}
		}
		// Typo hits count at a discount.
		for _, hits := range typoIntents {
			if hits[intent] {
				credit += 0.5
			}
		}
		if credit == 0 {
			continue
		}

		denom := len(words)
		if len(tokens) < denom {
			denom = len(tokens)
		}
		if denom < 1 {
			denom = 1
		}
		score := credit / float64(denom)
		if score > 1.0 {
			score = 1.0
		}
		// Strictly greater: ties resolve to the first-declared intent.
		if score > bestScore {
			bestScore = score
			bestIntent = intent
		}
	}

	if bestIntent == "" || bestScore < fm.minScore {
		return nil, false
	}

	fm.logger.Debug("fuzzy match",
		zap.String("intent", bestIntent),
		zap.Float64("score", bestScore))

	return &Result{
		Intent:     bestIntent,
		Confidence: bestScore,
		Source:     SourceFuzzy,
	}, true
}

// MatchWithContext first checks the last one or two turns for
// continuation signals: a bare date after the assistant asked about
// booking dates, or an affirmation after a price quote. When a signal
// is present the match is boosted and flagged; otherwise it falls
// through to the context-free match.
func (fm *FuzzyMatcher) MatchWithContext(text string, conv *conversation.State) (*Result, bool) {
	if conv != nil {
		trimmed := strings.TrimSpace(text)
		recent := conv.RecentHistory(4)

		if bareDateRe.MatchString(trimmed) && lastAssistantMatches(recent, askedDatesRe) {
			intent := continuationIntent(conv)
			fm.logger.Debug("context boost: date continuation",
				zap.String("intent", intent),
				zap.String("reply", trimmed))
			return &Result{
				Intent:       intent,
				Confidence:   0.85,
				Source:       SourceFuzzy,
				ContextBoost: true,
				Entities:     map[string]string{"date": trimmed},
			}, true
		}

		if affirmationRe.MatchString(trimmed) && lastAssistantMatches(recent, quotedPriceRe) {
			intent := continuationIntent(conv)
			fm.logger.Debug("context boost: affirmation after quote",
				zap.String("intent", intent))
			return &Result{
				Intent:       intent,
				Confidence:   0.8,
				Source:       SourceFuzzy,
				ContextBoost: true,
				Entities:     map[string]string{"confirmed": "true"},
			}, true
		}
	}

	return fm.Match(text)
}

// Name identifies the tier.
func (fm *FuzzyMatcher) Name() string {
	return SourceFuzzy
}

// Attempt implements Tier.
func (fm *FuzzyMatcher) Attempt(_ context.Context, text string, conv *conversation.State) (*Result, bool) {
	return fm.MatchWithContext(text, conv)
}

// Close releases the typo index.
func (fm *FuzzyMatcher) Close() {
	if fm.typos != nil {
		_ = fm.typos.Close()
	}
}

func (fm *FuzzyMatcher) anyExactKeywordHit(token string) bool {
	for _, words := range fm.keywords {
		for _, kw := range words {
			if kw == token {
				return true
			}
		}
	}
	return false
}

// continuationIntent picks the intent a short continuation reply
// belongs to: the conversation's last intent when there is one,
// otherwise the booking flow that date/price questions come from.
func continuationIntent(conv *conversation.State) string {
	if conv.LastIntent != "" && conv.LastIntent != IntentUnknown {
		return conv.LastIntent
	}
	return "booking"
}

// lastAssistantMatches reports whether the most recent assistant turn
// in the window matches re.
func lastAssistantMatches(recent []conversation.Message, re *regexp.Regexp) bool {
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role != "assistant" {
			continue
		}
		return re.MatchString(recent[i].Text)
	}
	return false
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)

// normalizeMessage lowercases, strips punctuation and splits into
// tokens.
func normalizeMessage(text string) (string, []string) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = punctRe.ReplaceAllString(normalized, " ")
	normalized = strings.Join(strings.Fields(normalized), " ")
	return normalized, strings.Fields(normalized)
}

// keywordHit reports whether a keyword occurs in the message. Single
// tokens compare against the token list; multi-word keywords use a
// substring check on the normalized message.
func keywordHit(normalized string, tokens []string, keyword string) bool {
	if keyword == "" {
		return false
	}
	if !strings.ContainsRune(keyword, ' ') {
		for _, tok := range tokens {
			if tok == keyword {
				return true
			}
		}
		return false
	}
	return strings.Contains(normalized, keyword)
}
