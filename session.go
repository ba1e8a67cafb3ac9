package chatsync

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Options
// ============================================================================

type sessionConfig struct {
	log           zerolog.Logger
	typingExpiry  time.Duration
	typingIdle    time.Duration
	autoReadDelay time.Duration
}

// SessionOption configures an opened session.
type SessionOption func(*sessionConfig)

// WithSessionLogger attaches a logger for background best-effort failures.
func WithSessionLogger(log zerolog.Logger) SessionOption {
	return func(c *sessionConfig) { c.log = log }
}

// WithTypingExpiry overrides the remote typing-indicator expiry window.
func WithTypingExpiry(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.typingExpiry = d }
}

// WithTypingIdle overrides the local compose idle-stop window.
func WithTypingIdle(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.typingIdle = d }
}

// WithAutoReadDelay overrides the automatic read-receipt debounce delay.
func WithAutoReadDelay(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.autoReadDelay = d }
}

// ============================================================================
// Session
// ============================================================================

// Session is the per-conversation handle exposed to UI callers. Opening a
// session joins the conversation's room and registers its push handlers;
// closing it unregisters them and leaves the room. The channel itself is a
// process-wide resource shared across sessions and is not closed here.
//
// Closing does not cancel in-flight page or send calls; a result arriving
// after Close may still land in the store, but no handler observes it.
type Session struct {
	client         *Client
	channel        EventChannel
	conversationID string
	self           User
	log            zerolog.Logger

	store    *Store
	loader   *HistoryLoader
	rec      *Reconciler
	receipts *ReadReceipts
	tracker  *TypingTracker
	emitter  *TypingEmitter
	sender   *Sender

	mu        sync.Mutex
	offs      []func()
	nextToken string
	hasMore   bool
	loading   bool
	lastErr   error
	closed    bool
}

// OpenSession wires the sync engine for one conversation and subscribes it
// to the shared channel. The room join is recorded even while the transport
// is down; the channel rejoins it after reconnect.
func OpenSession(client *Client, channel EventChannel, conversationID string, self User, opts ...SessionOption) *Session {
	cfg := sessionConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := NewStore()
	receipts := NewReadReceipts(client, store, conversationID, cfg.autoReadDelay, cfg.log)
	rec := NewReconciler(store, conversationID, self, receipts, cfg.log)
	emitter := NewTypingEmitter(channel, conversationID, self, cfg.typingIdle, cfg.log)

	s := &Session{
		client:         client,
		channel:        channel,
		conversationID: conversationID,
		self:           self,
		log:            cfg.log,
		store:          store,
		loader:         NewHistoryLoader(client),
		rec:            rec,
		receipts:       receipts,
		tracker:        NewTypingTracker(conversationID, cfg.typingExpiry),
		emitter:        emitter,
		sender:         NewSender(client, rec, store, conversationID, self, emitter),
		hasMore:        true,
	}
	s.subscribe()

	if err := channel.JoinRoom(conversationID); err != nil {
		// Room membership is tracked channel-side and restored on reconnect.
		s.log.Debug().Err(err).Str("conversationId", conversationID).Msg("room join deferred")
	}
	return s
}

func (s *Session) subscribe() {
	s.offs = append(s.offs,
		s.channel.On(EventNewMessage, func(data json.RawMessage) {
			var ev MessageEvent
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			s.rec.ApplyMessage(ev)
		}),
		s.channel.On(EventMessageRead, func(data json.RawMessage) {
			var ev ReadEvent
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			s.rec.ApplyRead(ev)
		}),
		s.channel.On(EventUserTyping, func(data json.RawMessage) {
			var ev TypingEvent
			if json.Unmarshal(data, &ev) != nil {
				return
			}
			if ev.UserID == s.self.ID {
				return
			}
			s.tracker.Apply(ev)
		}),
	)
}

// Close unsubscribes the session's handlers, leaves the room, and cancels
// its timers. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if err := s.channel.LeaveRoom(s.conversationID); err != nil {
		s.log.Debug().Err(err).Msg("room leave skipped")
	}
	s.tracker.Stop()
	s.emitter.Stop()
	s.receipts.Stop()
}

// ============================================================================
// Timeline
// ============================================================================

// Messages returns the conversation's cached timeline in ascending order.
// The view is lazy and restartable; each range observes a fresh snapshot.
func (s *Session) Messages() iter.Seq[Message] {
	return s.store.Sequence()
}

// HasMore reports whether older history pages remain unfetched.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Loading reports whether a page fetch is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the most recent fetch error, cleared by the next successful
// load. Cached messages stay visible alongside it.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LoadMore fetches the next-older history page and merges it. The first call
// fetches the newest page. A call while a fetch is already in flight or
// after history is exhausted is a no-op. On failure the store is unchanged
// and the error is both recorded and returned.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.loading || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	token := s.nextToken
	s.mu.Unlock()

	page, err := s.loader.LoadPage(ctx, s.conversationID, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.lastErr = err
		return err
	}
	s.lastErr = nil
	s.nextToken = page.NextToken
	s.hasMore = page.HasMore
	s.rec.ApplyPage(page)
	return nil
}

// ============================================================================
// Intents
// ============================================================================

// Send performs an optimistic send; see Sender.Send.
func (s *Session) Send(ctx context.Context, content string) (Message, error) {
	return s.sender.Send(ctx, content)
}

// SendState exposes the lifecycle state of a send attempt.
func (s *Session) SendState(clientID string) (SendState, bool) {
	return s.sender.State(clientID)
}

// MarkMessageAsRead marks one message read locally and remotely.
func (s *Session) MarkMessageAsRead(ctx context.Context, messageID string) error {
	return s.receipts.MarkRead(ctx, messageID)
}

// MarkAllAsRead marks the whole conversation read locally and remotely.
func (s *Session) MarkAllAsRead(ctx context.Context) error {
	return s.receipts.MarkAllRead(ctx)
}

// TypingUsers returns the display names currently typing in this
// conversation.
func (s *Session) TypingUsers() []string {
	return s.tracker.Users()
}

// SendTyping emits an explicit typing state for the local user.
func (s *Session) SendTyping(isTyping bool) {
	s.emitter.Set(isTyping)
}

// ComposeInput reports the compose-box content after a keystroke and derives
// start/stop/idle typing signals from its transitions.
func (s *Session) ComposeInput(text string) {
	s.emitter.Input(text)
}

// IsConnected reports the shared transport state.
func (s *Session) IsConnected() bool {
	return s.channel.IsConnected()
}
