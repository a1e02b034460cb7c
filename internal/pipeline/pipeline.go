// Package pipeline ties the per-message flow together: rate gate,
// feedback-reply short circuit, tier cascade, routing, language
// resolution and conversation bookkeeping. One call per inbound
// message; per-sender calls are serialized, different senders run
// concurrently.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/classify"
	"github.com/hostel-concierge/internal/conversation"
	"github.com/hostel-concierge/internal/events"
	"github.com/hostel-concierge/internal/feedback"
	"github.com/hostel-concierge/internal/policy"
	"github.com/hostel-concierge/internal/routing"
)

// Request is one inbound guest message.
type Request struct {
	Sender      string `json:"sender"`
	DisplayName string `json:"display_name,omitempty"`
	Text        string `json:"text"`
}

// Response is everything the surrounding application needs to reply.
type Response struct {
	// Rate limiting.
	RateLimited bool          `json:"rate_limited,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	DenyReason  string        `json:"deny_reason,omitempty"`

	// Feedback short circuit: the message was a rating, not a query.
	FeedbackHandled bool             `json:"feedback_handled,omitempty"`
	FeedbackRecord  *feedback.Record `json:"feedback_record,omitempty"`

	// Normal classification path.
	Classification *classify.Result `json:"classification,omitempty"`
	Routing        *routing.Result  `json:"routing,omitempty"`
	Language       string           `json:"language,omitempty"`

	// Feedback solicitation for this turn.
	AskFeedback   bool   `json:"ask_feedback,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Pipeline owns the per-message flow. All collaborators are injected;
// emitter and correlator may be nil to disable those concerns.
type Pipeline struct {
	limiter   *policy.RateLimiter
	store     *conversation.Store
	cascade   *classify.Cascade
	resolver  *routing.Resolver
	languages *classify.LanguageResolver
	feedback  *feedback.Correlator
	emitter   *events.Emitter
	logger    *zap.Logger

	// Per-sender serialization. History appends and repeat-intent
	// checks are read-then-write; two in-flight messages for one
	// sender would corrupt them.
	sendersMu sync.Mutex
	senders   map[string]*sync.Mutex
}

// New assembles the pipeline.
func New(limiter *policy.RateLimiter, store *conversation.Store, cascade *classify.Cascade, resolver *routing.Resolver, languages *classify.LanguageResolver, correlator *feedback.Correlator, emitter *events.Emitter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		limiter:   limiter,
		store:     store,
		cascade:   cascade,
		resolver:  resolver,
		languages: languages,
		feedback:  correlator,
		emitter:   emitter,
		logger:    logger.Named("pipeline"),
		senders:   make(map[string]*sync.Mutex),
	}
}

// Process runs one message through the full flow. It never returns an
// error: every failure mode downstream of the rate gate degrades to a
// usable response.
func (p *Pipeline) Process(ctx context.Context, req Request) *Response {
	rate := p.limiter.Check(req.Sender)
	if !rate.Allowed {
		if p.emitter != nil {
			p.emitter.Emit(events.Event{
				Type:   events.EventRateLimited,
				Sender: req.Sender,
				Fields: map[string]string{"reason": rate.Reason},
			})
		}
		return &Response{
			RateLimited: true,
			RetryAfter:  rate.RetryAfter,
			DenyReason:  rate.Reason,
		}
	}

	unlock := p.lockSender(req.Sender)
	defer unlock()

	state := p.store.GetOrCreate(req.Sender, req.DisplayName)

	// A pending feedback solicitation intercepts rating replies before
	// classification. Anything that does not parse as a rating flows
	// on as a normal message.
	if p.feedback != nil {
		if snap, awaiting := p.feedback.Awaiting(req.Sender); awaiting {
			if rating, ok := p.feedback.DetectRating(req.Text); ok {
				rec := p.feedback.BuildFeedbackRecord(req.Sender, req.Text, rating, snap)
				p.feedback.ClearAwaiting(req.Sender)
				p.store.AddMessage(req.Sender, "user", req.Text)
				if p.emitter != nil {
					p.emitter.EmitFeedbackRecorded(req.Sender, rec.Intent, rec.Rating)
				}
				p.logger.Info("feedback recorded",
					zap.String("sender", req.Sender),
					zap.Int("rating", rating),
					zap.String("correlation_id", rec.CorrelationID))
				return &Response{FeedbackHandled: true, FeedbackRecord: &rec}
			}
		}
	}

	// Classification sees the history up to, but not including, this
	// message; the text itself travels separately so the model prompt
	// never carries it twice.
	start := time.Now()
	cls := p.cascade.Classify(ctx, req.Text, state)
	p.store.AddMessage(req.Sender, "user", req.Text)

	if cls.Intent == classify.IntentUnknown {
		p.store.BumpUnknown(req.Sender)
	} else {
		p.store.ResetUnknown(req.Sender)
	}

	route := p.resolver.Resolve(req.Sender, req.Text, cls)

	// The classifier may report a dedicated language confidence; when
	// it does not, the detection is only as trustworthy as the intent
	// answer it came with.
	language := state.Language
	if p.languages != nil {
		langConf := cls.LanguageConf
		if langConf == 0 {
			langConf = cls.Confidence
		}
		language = p.languages.ResolveResponseLanguage(cls.Language, state.Language, langConf)
		if p.languages.ShouldPersistLanguage(cls.Language, state.Language, langConf) {
			p.store.SetLanguage(req.Sender, cls.Language)
		}
	}

	if len(cls.Entities) > 0 {
		p.store.UpdateSlots(req.Sender, cls.Entities)
	}

	resp := &Response{
		Classification: cls,
		Routing:        route,
		Language:       language,
	}

	if p.feedback != nil && p.feedback.ShouldAsk(req.Sender, cls.Intent, route.Action) {
		resp.AskFeedback = true
		resp.CorrelationID = p.feedback.MarkAwaiting(req.Sender, feedback.Snapshot{
			Intent:       cls.Intent,
			Confidence:   cls.Confidence,
			Source:       cls.Source,
			Model:        cls.Model,
			ResponseTime: time.Since(start),
		})
	}

	p.logger.Debug("message processed",
		zap.String("sender", req.Sender),
		zap.String("intent", cls.Intent),
		zap.String("source", cls.Source),
		zap.String("action", route.Action),
		zap.String("language", language))
	return resp
}

// RecordReply appends the assistant's reply to the history so the
// next classification sees it as context.
func (p *Pipeline) RecordReply(sender, text string) {
	unlock := p.lockSender(sender)
	defer unlock()
	p.store.AddMessage(sender, "assistant", text)
}

func (p *Pipeline) lockSender(sender string) func() {
	p.sendersMu.Lock()
	mu, ok := p.senders[sender]
	if !ok {
		mu = &sync.Mutex{}
		p.senders[sender] = mu
	}
	p.sendersMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
