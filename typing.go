package chatsync

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	// DefaultTypingExpiry bounds how long a remote user stays in the typing
	// set when their stop event is lost (tab closed mid-type).
	DefaultTypingExpiry = 3 * time.Second

	// DefaultTypingIdle is how long after the last keystroke the local side
	// emits a stop signal without the field being cleared.
	DefaultTypingIdle = 2 * time.Second
)

// ============================================================================
// Incoming side
// ============================================================================

// TypingTracker derives the live set of currently-typing users for one
// conversation from push events. Entries are keyed by user ID, so repeated
// start events from the same user never duplicate, and each entry expires on
// its own timer when no stop event arrives in time.
type TypingTracker struct {
	conversationID string
	expiry         time.Duration

	mu     sync.Mutex
	users  map[string]string // userID -> display name
	timers map[string]*time.Timer
	closed bool
}

// NewTypingTracker creates a tracker for one conversation. expiry <= 0 uses
// DefaultTypingExpiry.
func NewTypingTracker(conversationID string, expiry time.Duration) *TypingTracker {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingTracker{
		conversationID: conversationID,
		expiry:         expiry,
		users:          make(map[string]string),
		timers:         make(map[string]*time.Timer),
	}
}

// Apply consumes a typing push event. Events for other conversations are
// ignored. A start event adds the user and arms (or re-arms) their expiry
// timer; a stop event removes them immediately and cancels the timer.
func (t *TypingTracker) Apply(ev TypingEvent) {
	if ev.ConversationID != t.conversationID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if !ev.IsTyping {
		t.removeLocked(ev.UserID)
		return
	}

	t.users[ev.UserID] = ev.DisplayName
	if timer, ok := t.timers[ev.UserID]; ok {
		timer.Stop()
	}
	userID := ev.UserID
	t.timers[userID] = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.removeLocked(userID)
	})
}

func (t *TypingTracker) removeLocked(userID string) {
	if timer, ok := t.timers[userID]; ok {
		timer.Stop()
		delete(t.timers, userID)
	}
	delete(t.users, userID)
}

// Users returns the display names of currently-typing users, sorted for
// stable rendering.
func (t *TypingTracker) Users() []string {
	t.mu.Lock()
	names := lo.Values(t.users)
	t.mu.Unlock()
	sort.Strings(names)
	return names
}

// Stop cancels all pending expiry timers and empties the set.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for userID := range t.timers {
		t.removeLocked(userID)
	}
	t.users = make(map[string]string)
}

// ============================================================================
// Outgoing side
// ============================================================================

// TypingEmitter mirrors the tracker on the sending side: it turns compose-box
// input transitions into start/stop signals over the channel. Signals are
// advisory: while the transport is disconnected they are dropped, not
// queued, since a late-delivered "was typing" is meaningless.
type TypingEmitter struct {
	channel        EventChannel
	conversationID string
	self           User
	idle           time.Duration
	log            zerolog.Logger

	mu        sync.Mutex
	typing    bool
	idleTimer *time.Timer
}

// NewTypingEmitter creates an emitter for the local user in one conversation.
// idle <= 0 uses DefaultTypingIdle.
func NewTypingEmitter(channel EventChannel, conversationID string, self User, idle time.Duration, log zerolog.Logger) *TypingEmitter {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingEmitter{
		channel:        channel,
		conversationID: conversationID,
		self:           self,
		idle:           idle,
		log:            log,
	}
}

// Input reports the current compose-box content after a keystroke.
// Transitions: empty→non-empty emits a start signal; non-empty→empty emits a
// stop; any further keystroke re-arms the idle timer that emits a stop when
// typing pauses without the field being cleared.
func (e *TypingEmitter) Input(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if text == "" {
		if e.typing {
			e.setTypingLocked(false)
		}
		return
	}

	if !e.typing {
		e.setTypingLocked(true)
	}
	e.armIdleLocked()
}

// Set emits an explicit typing state, bypassing the compose transitions.
func (e *TypingEmitter) Set(isTyping bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typing == isTyping {
		return
	}
	e.setTypingLocked(isTyping)
	if isTyping {
		e.armIdleLocked()
	}
}

// Clear emits a stop signal if one is outstanding. Called after a successful
// send, which implicitly ends the composing state.
func (e *TypingEmitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typing {
		e.setTypingLocked(false)
	}
}

// Stop cancels the idle timer without emitting; used on session close where a
// final network write is not wanted.
func (e *TypingEmitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typing = false
	e.cancelIdleLocked()
}

func (e *TypingEmitter) setTypingLocked(isTyping bool) {
	e.typing = isTyping
	if !isTyping {
		e.cancelIdleLocked()
	}
	e.emit(isTyping)
}

func (e *TypingEmitter) armIdleLocked() {
	e.cancelIdleLocked()
	e.idleTimer = time.AfterFunc(e.idle, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.typing {
			e.setTypingLocked(false)
		}
	})
}

func (e *TypingEmitter) cancelIdleLocked() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}

func (e *TypingEmitter) emit(isTyping bool) {
	if !e.channel.IsConnected() {
		e.log.Debug().Bool("isTyping", isTyping).Msg("typing signal dropped while disconnected")
		return
	}
	err := e.channel.Emit(EventUserTyping, TypingEvent{
		ConversationID: e.conversationID,
		UserID:         e.self.ID,
		DisplayName:    e.self.DisplayName,
		IsTyping:       isTyping,
	})
	if err != nil {
		e.log.Debug().Err(err).Msg("typing signal dropped")
	}
}
