// Package routing maps classified intents to configured actions. A
// missing mapping is an operational gap to report, never a dropped
// message.
package routing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/classify"
	"github.com/hostel-concierge/internal/config"
	"github.com/hostel-concierge/internal/conversation"
	"github.com/hostel-concierge/internal/events"
)

// ActionLLMAnswer is the generic fallback when no route is configured
// for an intent: hand the message to the model to answer freely.
const ActionLLMAnswer = "llm_answer"

// Result is the routing decision for one classified message.
type Result struct {
	Action       string            `json:"action"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MessageType  string            `json:"message_type"`
	IsRepeat     bool              `json:"is_repeat"`
	RepeatCount  int               `json:"repeat_count"`
	MissingRoute bool              `json:"missing_route,omitempty"`
}

// Resolver looks intents up in the routing table and records the turn
// against the conversation. The table is owned by config and read-only
// here.
type Resolver struct {
	routes  map[string]config.Route
	store   *conversation.Store
	emitter *events.Emitter
	logger  *zap.Logger

	missMu sync.Mutex
	misses map[string]int
}

// NewResolver wires the resolver. emitter may be nil when analytics
// are disabled.
func NewResolver(routes map[string]config.Route, store *conversation.Store, emitter *events.Emitter, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if routes == nil {
		routes = map[string]config.Route{}
	}
	return &Resolver{
		routes:  routes,
		store:   store,
		emitter: emitter,
		logger:  logger.Named("routing"),
		misses:  map[string]int{},
	}
}

// Resolve picks the action for a classification, detects the message
// type, updates repeat-intent tracking and emits analytics. It always
// returns a usable result: an unmapped intent notifies the admins and
// falls back to the generic model answer.
func (r *Resolver) Resolve(sender, text string, cls *classify.Result) *Result {
	out := &Result{
		MessageType: classify.DetectMessageType(text),
	}

	route, found := r.routes[cls.Intent]
	if found {
		out.Action = route.Action
		out.Metadata = route.Metadata
	} else {
		out.Action = ActionLLMAnswer
		out.MissingRoute = true
		r.missMu.Lock()
		r.misses[cls.Intent]++
		r.missMu.Unlock()
		r.logger.Warn("no route configured for intent",
			zap.String("intent", cls.Intent),
			zap.String("sender", sender))
		if r.emitter != nil {
			r.emitter.NotifyMissingRoute(cls.Intent, sender)
		}
	}
	// Tier 1 always routes to the emergency action, table or not.
	if cls.Action == classify.ActionEmergency {
		out.Action = classify.ActionEmergency
		out.MissingRoute = false
	}

	out.IsRepeat, out.RepeatCount = r.store.CheckRepeatIntent(sender, cls.Intent)
	r.store.UpdateLastIntent(sender, cls.Intent, cls.Confidence)

	if r.emitter != nil {
		r.emitter.EmitIntentClassified(sender, cls.Intent, cls.Source, cls.Confidence)
		r.emitter.EmitPredictionLogged(sender, cls.Intent, cls.Model, cls.Elapsed)
	}

	return out
}

// MissingRoutes returns a copy of the per-intent counters of
// classifications that found no configured route.
func (r *Resolver) MissingRoutes() map[string]int {
	r.missMu.Lock()
	defer r.missMu.Unlock()
	out := make(map[string]int, len(r.misses))
	for intent, n := range r.misses {
		out[intent] = n
	}
	return out
}

// Route exposes the raw table entry for an intent.
func (r *Resolver) Route(intent string) (config.Route, bool) {
	route, ok := r.routes[intent]
	return route, ok
}
