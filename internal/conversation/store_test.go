package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/hostel-concierge/internal/policy"
)

func newTestStore(t *testing.T) (*Store, *policy.FakeClock) {
	clock := policy.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	return NewStore(clock, zaptest.NewLogger(t)), clock
}

func TestGetOrCreateInitializesDefaults(t *testing.T) {
	store, clock := newTestStore(t)

	s := store.GetOrCreate("guest-1", "Aisha")
	assert.Equal(t, "guest-1", s.Sender)
	assert.Equal(t, "Aisha", s.DisplayName)
	assert.Equal(t, DefaultLanguage, s.Language)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Empty(t, s.History)

	// Second call returns the same state.
	again := store.GetOrCreate("guest-1", "")
	assert.Same(t, s, again)
	assert.Equal(t, 1, store.Count())
}

func TestHistoryCappedAtMax(t *testing.T) {
	store, _ := newTestStore(t)

	for i := 0; i < MaxHistory+7; i++ {
		store.AddMessage("guest-1", "user", fmt.Sprintf("message %d", i))
	}

	s := store.GetOrCreate("guest-1", "")
	assert.Len(t, s.History, MaxHistory)
	// Oldest entries evicted first.
	assert.Equal(t, "message 7", s.History[0].Text)
	assert.Equal(t, fmt.Sprintf("message %d", MaxHistory+6), s.History[len(s.History)-1].Text)
}

func TestCheckRepeatIntent(t *testing.T) {
	store, _ := newTestStore(t)

	// No prior intent: not a repeat.
	isRepeat, count := store.CheckRepeatIntent("guest-1", "wifi")
	assert.False(t, isRepeat)
	assert.Equal(t, 0, count)

	store.UpdateLastIntent("guest-1", "wifi", 0.9)

	isRepeat, count = store.CheckRepeatIntent("guest-1", "wifi")
	assert.True(t, isRepeat)
	assert.Equal(t, 1, count)

	isRepeat, count = store.CheckRepeatIntent("guest-1", "wifi")
	assert.True(t, isRepeat)
	assert.Equal(t, 2, count)

	// Different intent resets the counter.
	isRepeat, count = store.CheckRepeatIntent("guest-1", "checkout")
	assert.False(t, isRepeat)
	assert.Equal(t, 0, count)
}

func TestSlotsMergeReadClear(t *testing.T) {
	store, _ := newTestStore(t)

	store.UpdateSlots("guest-1", map[string]string{"check_in": "2025-06-03"})
	store.UpdateSlots("guest-1", map[string]string{"guests": "2"})

	slots := store.GetSlots("guest-1")
	assert.Equal(t, "2025-06-03", slots["check_in"])
	assert.Equal(t, "2", slots["guests"])

	// Returned map is a copy.
	slots["check_in"] = "mutated"
	assert.Equal(t, "2025-06-03", store.GetSlots("guest-1")["check_in"])

	store.ClearSlots("guest-1")
	assert.Empty(t, store.GetSlots("guest-1"))
}

func TestUnknownCounter(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Equal(t, 1, store.BumpUnknown("guest-1"))
	assert.Equal(t, 2, store.BumpUnknown("guest-1"))
	store.ResetUnknown("guest-1")
	assert.Equal(t, 1, store.BumpUnknown("guest-1"))
}

func TestClearConversation(t *testing.T) {
	store, _ := newTestStore(t)

	store.AddMessage("guest-1", "user", "hello")
	store.UpdateLastIntent("guest-1", "greeting", 1.0)
	store.ClearConversation("guest-1")

	assert.Equal(t, 0, store.Count())
	s := store.GetOrCreate("guest-1", "")
	assert.Empty(t, s.History)
	assert.Empty(t, s.LastIntent)
}

func TestRecentHistory(t *testing.T) {
	store, _ := newTestStore(t)

	store.AddMessage("guest-1", "user", "one")
	store.AddMessage("guest-1", "assistant", "two")
	store.AddMessage("guest-1", "user", "three")

	s := store.GetOrCreate("guest-1", "")
	recent := s.RecentHistory(2)
	assert.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Text)
	assert.Equal(t, "three", recent[1].Text)

	assert.Len(t, s.RecentHistory(10), 3)
	assert.Nil(t, s.RecentHistory(0))
}
