// Package conversation provides per-sender mutable chat state: bounded
// message history, sticky language, last-intent tracking and slot
// memory. The store is the single place read-then-write turn state
// lives, keyed by sender so different senders never contend on data.
package conversation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hostel-concierge/internal/policy"
)

// MaxHistory is the per-sender message history cap. Oldest entries are
// evicted first.
const MaxHistory = 20

// DefaultLanguage is the sticky language for new conversations.
const DefaultLanguage = "en"

// Message is one history entry.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingState is embedded sub-state for the multi-turn booking flow.
type BookingState struct {
	Step     string            `json:"step,omitempty"`
	CheckIn  string            `json:"check_in,omitempty"`
	CheckOut string            `json:"check_out,omitempty"`
	Guests   int               `json:"guests,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// State is the conversation record for one sender.
type State struct {
	Sender             string            `json:"sender"`
	DisplayName        string            `json:"display_name,omitempty"`
	History            []Message         `json:"history"`
	Language           string            `json:"language"`
	LastIntent         string            `json:"last_intent,omitempty"`
	LastConfidence     float64           `json:"last_confidence,omitempty"`
	LastIntentAt       time.Time         `json:"last_intent_at,omitempty"`
	RepeatCount        int               `json:"repeat_count"`
	ConsecutiveUnknown int               `json:"consecutive_unknown"`
	Slots              map[string]string `json:"slots,omitempty"`
	Booking            *BookingState     `json:"booking,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	LastActiveAt       time.Time         `json:"last_active_at"`
}

// RecentHistory returns up to n most recent messages, oldest first.
func (s *State) RecentHistory(n int) []Message {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if n > len(s.History) {
		n = len(s.History)
	}
	out := make([]Message, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// Store holds conversation state for all senders.
type Store struct {
	mu     sync.RWMutex
	states map[string]*State
	clock  policy.Clock
	logger *zap.Logger
}

// NewStore creates an empty conversation store. A nil clock defaults
// to the system clock.
func NewStore(clock policy.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = policy.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		states: make(map[string]*State),
		clock:  clock,
		logger: logger.Named("conversation"),
	}
}

// GetOrCreate returns the existing state for sender, creating it lazily
// on first contact.
func (st *Store) GetOrCreate(sender, displayName string) *State {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.states[sender]; ok {
		s.LastActiveAt = st.clock.Now()
		if displayName != "" && s.DisplayName == "" {
			s.DisplayName = displayName
		}
		return s
	}

	now := st.clock.Now()
	s := &State{
		Sender:       sender,
		DisplayName:  displayName,
		Language:     DefaultLanguage,
		Slots:        make(map[string]string),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	st.states[sender] = s
	st.logger.Debug("conversation created", zap.String("sender", sender))
	return s
}

// AddMessage appends a turn to the sender's history, trimming to the cap.
func (st *Store) AddMessage(sender, role, text string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(sender)
	s.History = append(s.History, Message{Role: role, Text: text, Timestamp: st.clock.Now()})
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
	s.LastActiveAt = st.clock.Now()
}

// UpdateLastIntent records the latest classified intent for sender.
func (st *Store) UpdateLastIntent(sender, intent string, confidence float64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(sender)
	s.LastIntent = intent
	s.LastConfidence = confidence
	s.LastIntentAt = st.clock.Now()
}

// CheckRepeatIntent compares intent against the stored last intent
// BEFORE it is updated. Same intent increments the repeat counter and
// reports a repeat; a different intent resets the counter to zero.
func (st *Store) CheckRepeatIntent(sender, intent string) (isRepeat bool, count int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(sender)
	if s.LastIntent != "" && s.LastIntent == intent {
		s.RepeatCount++
		return true, s.RepeatCount
	}
	s.RepeatCount = 0
	return false, 0
}

// BumpUnknown increments the consecutive-unknown counter and returns it.
func (st *Store) BumpUnknown(sender string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(sender)
	s.ConsecutiveUnknown++
	return s.ConsecutiveUnknown
}

// ResetUnknown clears the consecutive-unknown counter.
func (st *Store) ResetUnknown(sender string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.getOrCreateLocked(sender).ConsecutiveUnknown = 0
}

// SetLanguage overwrites the sender's sticky language.
func (st *Store) SetLanguage(sender, language string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.getOrCreateLocked(sender).Language = language
}

// UpdateSlots shallow-merges values into the sender's slot memory.
func (st *Store) UpdateSlots(sender string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(sender)
	if s.Slots == nil {
		s.Slots = make(map[string]string, len(values))
	}
	for k, v := range values {
		s.Slots[k] = v
	}
}

// GetSlots returns a copy of the sender's slot memory.
func (st *Store) GetSlots(sender string) map[string]string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.states[sender]
	if !ok || len(s.Slots) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(s.Slots))
	for k, v := range s.Slots {
		out[k] = v
	}
	return out
}

// ClearSlots wipes the sender's slot memory.
func (st *Store) ClearSlots(sender string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.states[sender]; ok {
		s.Slots = make(map[string]string)
	}
}

// ClearConversation removes the sender's state entirely. Used by the
// admin reset endpoint and tests.
func (st *Store) ClearConversation(sender string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.states, sender)
	st.logger.Debug("conversation cleared", zap.String("sender", sender))
}

// Count returns the number of active conversations.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.states)
}

func (st *Store) getOrCreateLocked(sender string) *State {
	if s, ok := st.states[sender]; ok {
		return s
	}
	now := st.clock.Now()
	s := &State{
		Sender:       sender,
		Language:     DefaultLanguage,
		Slots:        make(map[string]string),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	st.states[sender] = s
	return s
}
