package chatsync

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

// testMessage builds a server-delivered message n seconds after the epoch.
func testMessage(id, conversationID, senderID, content string, offset int) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         User{ID: senderID, DisplayName: senderID},
		Content:        content,
		CreatedAt:      testEpoch.Add(time.Duration(offset) * time.Second),
	}
}

// collect drains a message sequence into a slice.
func collect(s *Store) []Message {
	var out []Message
	for m := range s.Sequence() {
		out = append(out, m)
	}
	return out
}

// fakeChannel is an in-process EventChannel for driving push events into an
// engine under test.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	joins     map[string]int
	leaves    map[string]int
	emitted   []emittedEvent
	d         *dispatcher
}

type emittedEvent struct {
	Event   string
	Payload any
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		joins:     make(map[string]int),
		leaves:    make(map[string]int),
		d:         newDispatcher(),
	}
}

func (f *fakeChannel) JoinRoom(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[conversationID]++
	return nil
}

func (f *fakeChannel) LeaveRoom(conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves[conversationID]++
	return nil
}

func (f *fakeChannel) On(event string, h Handler) func() {
	return f.d.add(event, h)
}

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return &TransportError{Reason: "not connected"}
	}
	f.emitted = append(f.emitted, emittedEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	f.mu.Unlock()
}

// push delivers a named event to registered handlers, as the read loop would.
func (f *fakeChannel) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal push payload: %v", err)
	}
	f.d.dispatch(frame{Event: event, Data: data})
}

// emittedTyping filters emitted events down to typing signals.
func (f *fakeChannel) emittedTyping() []TypingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []TypingEvent
	for _, e := range f.emitted {
		if e.Event == EventUserTyping {
			out = append(out, e.Payload.(TypingEvent))
		}
	}
	return out
}
