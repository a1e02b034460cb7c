// Package events provides one-way emission of analytics events and
// administrative notifications over NATS. Publishing is buffered and
// best-effort: failures here are logged and swallowed, so nothing in
// this package can affect the reply path.
package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/jsonx"
)

// EventType labels the analytics stream an event belongs to.
type EventType string

const (
	EventIntentClassified EventType = "intent_classified"
	EventPredictionLogged EventType = "prediction_logged"
	EventFeedbackRecorded EventType = "feedback_recorded"
	EventRateLimited      EventType = "rate_limited"
	EventMissingRoute     EventType = "missing_route"
	EventConfigProblem    EventType = "config_problem"
)

// Event is a single emitted record.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Sender    string            `json:"sender,omitempty"`
	Intent    string            `json:"intent,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Config configures the emitter.
type Config struct {
	Subject      string // analytics subject, default "concierge.events"
	AdminSubject string // notification subject, default "concierge.admin"
	BufferSize   int
}

// Emitter publishes events asynchronously. A nil NATS connection puts
// the emitter in log-only mode, which tests and local runs use.
type Emitter struct {
	natsConn     *nats.Conn
	logger       *zap.Logger
	subject      string
	adminSubject string
	eventChan    chan Event
	done         chan struct{}

	closeMu sync.RWMutex
	closed  bool
}

// NewEmitter creates an emitter and starts its publish loop.
func NewEmitter(natsConn *nats.Conn, cfg Config, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Subject == "" {
		cfg.Subject = "concierge.events"
	}
	if cfg.AdminSubject == "" {
		cfg.AdminSubject = "concierge.admin"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	e := &Emitter{
		natsConn:     natsConn,
		logger:       logger.Named("events"),
		subject:      cfg.Subject,
		adminSubject: cfg.AdminSubject,
		eventChan:    make(chan Event, cfg.BufferSize),
		done:         make(chan struct{}),
	}
	go e.processEvents()
	return e
}

// Emit queues an analytics event. A full buffer drops the event rather
// than blocking the caller.
func (e *Emitter) Emit(ev Event) {
	e.enqueue(ev)
}

// EmitIntentClassified records one classified turn.
func (e *Emitter) EmitIntentClassified(sender, intent, source string, confidence float64) {
	e.enqueue(Event{
		Type:   EventIntentClassified,
		Sender: sender,
		Intent: intent,
		Fields: map[string]string{
			"source":     source,
			"confidence": formatFloat(confidence),
		},
	})
}

// EmitPredictionLogged records the model prediction for offline review.
func (e *Emitter) EmitPredictionLogged(sender, intent, model string, elapsed time.Duration) {
	e.enqueue(Event{
		Type:   EventPredictionLogged,
		Sender: sender,
		Intent: intent,
		Fields: map[string]string{
			"model":      model,
			"elapsed_ms": formatFloat(float64(elapsed.Milliseconds())),
		},
	})
}

// EmitFeedbackRecorded records a parsed guest rating.
func (e *Emitter) EmitFeedbackRecorded(sender, intent string, rating int) {
	e.enqueue(Event{
		Type:   EventFeedbackRecorded,
		Sender: sender,
		Intent: intent,
		Fields: map[string]string{"rating": formatFloat(float64(rating))},
	})
}

// NotifyMissingRoute raises an administrative notification that a
// classified intent has no routing entry. Non-fatal by contract.
func (e *Emitter) NotifyMissingRoute(intent, sender string) {
	e.enqueue(Event{
		Type:   EventMissingRoute,
		Sender: sender,
		Intent: intent,
		Fields: map[string]string{
			"detail": "no routing entry configured for intent " + intent,
		},
	})
}

// NotifyConfigProblem raises an administrative notification about a
// configuration inconsistency observed at runtime.
func (e *Emitter) NotifyConfigProblem(detail string) {
	e.enqueue(Event{
		Type:   EventConfigProblem,
		Fields: map[string]string{"detail": detail},
	})
}

// Close stops the publish loop after draining queued events. It is
// idempotent, and emits racing a Close are dropped rather than
// panicking on the closed channel.
func (e *Emitter) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.eventChan)
	e.closeMu.Unlock()
	<-e.done
}

func (e *Emitter) enqueue(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now()

	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.eventChan <- ev:
	default:
		e.logger.Warn("event buffer full, dropping event", zap.String("type", string(ev.Type)))
	}
}

func (e *Emitter) processEvents() {
	defer close(e.done)
	for ev := range e.eventChan {
		e.publish(ev)
	}
}

func (e *Emitter) publish(ev Event) {
	subject := e.subject
	if ev.Type == EventMissingRoute || ev.Type == EventConfigProblem {
		subject = e.adminSubject
	}

	if e.natsConn == nil {
		e.logger.Info("event",
			zap.String("type", string(ev.Type)),
			zap.String("sender", ev.Sender),
			zap.String("intent", ev.Intent),
			zap.Any("fields", ev.Fields))
		return
	}

	data, err := jsonx.Marshal(ev)
	if err != nil {
		e.logger.Warn("event marshal failed", zap.Error(err))
		return
	}
	if err := e.natsConn.Publish(subject, data); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
