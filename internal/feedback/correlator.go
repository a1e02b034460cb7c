// Package feedback decides when to ask a guest whether a reply helped
// and parses their free-text thumbs-up/down answer, correlated to the
// turn being rated.
package feedback

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/policy"
)

// Rating values returned by DetectRating.
const (
	RatingUp   = 1
	RatingDown = -1
)

// Actions whose replies are canned or procedural; rating them tells us
// nothing about answer quality.
var unratableActions = map[string]bool{
	"emergency":      true,
	"escalate":       true,
	"start_workflow": true,
}

// Thumbs-up signals are checked before thumbs-down; first match wins.
var (
	upSignals   = []string{"👍", "thank you", "thanks", "helpful", "great", "good", "perfect", "yes", "terima kasih", "bagus", "ya", "好的", "很好", "不错", "有用", "谢谢"}
	downSignals = []string{"👎", "not helpful", "didn't help", "wrong", "useless", "bad", "no", "teruk", "salah", "tidak", "tak", "不好", "没用", "不行", "差"}
)

// Snapshot captures the turn a rating applies to. Stored when feedback
// is solicited and attached to the record when the reply arrives.
type Snapshot struct {
	CorrelationID string        `json:"correlation_id"`
	Intent        string        `json:"intent"`
	Confidence    float64       `json:"confidence"`
	Source        string        `json:"source"`
	Model         string        `json:"model,omitempty"`
	ResponseTime  time.Duration `json:"response_time"`
	AskedAt       time.Time     `json:"asked_at"`
}

// Record is one completed feedback observation.
type Record struct {
	CorrelationID string        `json:"correlation_id"`
	Sender        string        `json:"sender"`
	Rating        int           `json:"rating"`
	ReplyText     string        `json:"reply_text"`
	Intent        string        `json:"intent"`
	Confidence    float64       `json:"confidence"`
	Source        string        `json:"source"`
	Model         string        `json:"model,omitempty"`
	ResponseTime  time.Duration `json:"response_time"`
	RatedAt       time.Time     `json:"rated_at"`
}

// Correlator tracks per-sender solicitation state. The awaiting flag
// lives in an expiring cache: a reply after the timeout is treated as
// an ordinary message, not as feedback for a long-gone turn.
type Correlator struct {
	cfg    config.Feedback
	skip   map[string]bool
	clock  policy.Clock
	logger *zap.Logger

	mu        sync.Mutex
	lastAsked map[string]time.Time

	awaiting *expirable.LRU[string, Snapshot]
}

// NewCorrelator builds the correlator. clock may be nil for wall time.
func NewCorrelator(cfg config.Feedback, clock policy.Clock, logger *zap.Logger) *Correlator {
	if clock == nil {
		clock = policy.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]bool, len(cfg.SkipIntents))
	for _, in := range cfg.SkipIntents {
		skip[in] = true
	}
	timeout := time.Duration(cfg.AwaitTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Correlator{
		cfg:       cfg,
		skip:      skip,
		clock:     clock,
		logger:    logger.Named("feedback"),
		lastAsked: make(map[string]time.Time),
		awaiting:  expirable.NewLRU[string, Snapshot](4096, nil, timeout),
	}
}

// ShouldAsk reports whether to solicit feedback for this turn. False
// when feedback is disabled, the action is canned, the intent is on
// the skip list, or the sender was asked within the cooldown.
func (c *Correlator) ShouldAsk(sender, intent, action string) bool {
	if !c.cfg.Enabled {
		return false
	}
	if unratableActions[action] {
		return false
	}
	if c.skip[intent] {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if asked, ok := c.lastAsked[sender]; ok {
		if c.clock.Now().Sub(asked) < time.Duration(c.cfg.Cooldown) {
			return false
		}
	}
	return true
}

// MarkAwaiting records that the sender was just asked and returns the
// correlation id for the turn. The awaiting state auto-clears after
// the configured timeout. A new solicitation overwrites any previous
// one for the sender.
func (c *Correlator) MarkAwaiting(sender string, snap Snapshot) string {
	id := uuid.NewString()
	snap.CorrelationID = id
	snap.AskedAt = c.clock.Now()

	c.mu.Lock()
	c.lastAsked[sender] = snap.AskedAt
	c.mu.Unlock()

	c.awaiting.Add(sender, snap)
	c.logger.Debug("awaiting feedback",
		zap.String("sender", sender),
		zap.String("correlation_id", id),
		zap.String("intent", snap.Intent))
	return id
}

// Awaiting returns the pending snapshot for a sender, if any and not
// yet expired.
func (c *Correlator) Awaiting(sender string) (Snapshot, bool) {
	return c.awaiting.Get(sender)
}

// ClearAwaiting drops the pending state, used once a reply is consumed.
func (c *Correlator) ClearAwaiting(sender string) {
	c.awaiting.Remove(sender)
}

// DetectRating parses a reply as a thumbs-up/down signal. ok is false
// when the text is not a feedback reply at all and should continue
// through normal classification.
func (c *Correlator) DetectRating(text string) (rating int, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return 0, false
	}
	tokens := strings.Fields(normalized)

	if matchSignal(normalized, tokens, upSignals) {
		return RatingUp, true
	}
	if matchSignal(normalized, tokens, downSignals) {
		return RatingDown, true
	}
	return 0, false
}

// BuildFeedbackRecord combines a parsed rating with the awaited
// snapshot.
func (c *Correlator) BuildFeedbackRecord(sender, text string, rating int, snap Snapshot) Record {
	return Record{
		CorrelationID: snap.CorrelationID,
		Sender:        sender,
		Rating:        rating,
		ReplyText:     text,
		Intent:        snap.Intent,
		Confidence:    snap.Confidence,
		Source:        snap.Source,
		Model:         snap.Model,
		ResponseTime:  snap.ResponseTime,
		RatedAt:       c.clock.Now(),
	}
}

// matchSignal checks signals in order. Multi-word and non-Latin
// signals match as substrings; single Latin words must match a whole
// token so "no" does not fire inside "nothing".
func matchSignal(normalized string, tokens []string, signals []string) bool {
	for _, sig := range signals {
		if strings.ContainsRune(sig, ' ') || !isLatin(sig) {
			if strings.Contains(normalized, sig) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if strings.Trim(tok, ".,!?") == sig {
				return true
			}
		}
	}
	return false
}

func isLatin(s string) bool {
	for _, r := range s {
		if r > 0x024F {
			return false
		}
	}
	return true
}
