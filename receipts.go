package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAutoReadDelay spaces automatic read receipts so rapid successive
// messages don't each trigger an immediate network call.
const DefaultAutoReadDelay = 500 * time.Millisecond

// ReadReceipts marks messages read, locally and remotely. Local flips are
// monotonic and idempotent; the remote call is issued once per invocation and
// the remote endpoint is responsible for not double-counting. On a remote
// failure the local state is not rolled back; reverting a read flag on a
// transient blip would make the unread badge flicker.
type ReadReceipts struct {
	client         *Client
	store          *Store
	conversationID string
	delay          time.Duration
	log            zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewReadReceipts creates the coordinator for one conversation. delay <= 0
// uses DefaultAutoReadDelay.
func NewReadReceipts(client *Client, store *Store, conversationID string, delay time.Duration, log zerolog.Logger) *ReadReceipts {
	if delay <= 0 {
		delay = DefaultAutoReadDelay
	}
	return &ReadReceipts{
		client:         client,
		store:          store,
		conversationID: conversationID,
		delay:          delay,
		log:            log,
		timers:         make(map[string]*time.Timer),
	}
}

// MarkRead marks a single message read. The local flip happens first so the
// UI updates immediately; the remote failure, if any, comes back as a
// MutationError for the caller to retry.
func (r *ReadReceipts) MarkRead(ctx context.Context, messageID string) error {
	r.store.MarkRead(messageID)
	if err := r.client.MarkMessageRead(ctx, r.conversationID, messageID); err != nil {
		return &MutationError{Op: "mark read", Err: err}
	}
	return nil
}

// MarkAllRead marks every cached message of the conversation read and issues
// one bulk remote call.
func (r *ReadReceipts) MarkAllRead(ctx context.Context) error {
	r.store.MarkAllRead()
	if err := r.client.MarkConversationRead(ctx, r.conversationID); err != nil {
		return &MutationError{Op: "mark all read", Err: err}
	}
	return nil
}

// ScheduleAutoRead queues a delayed read receipt for a message that was just
// pushed by another sender. The delay debounces bursts; failures are logged,
// not surfaced, since the operation is background best-effort.
func (r *ReadReceipts) ScheduleAutoRead(messageID string) {
	if m, ok := r.store.Get(messageID); ok && m.Read {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if timer, ok := r.timers[messageID]; ok {
		timer.Stop()
	}
	r.timers[messageID] = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		delete(r.timers, messageID)
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := r.MarkRead(ctx, messageID); err != nil {
			r.log.Warn().Err(err).Str("messageId", messageID).Msg("auto read receipt failed")
		}
	})
}

// Stop cancels pending auto receipts. In-flight remote calls are not
// interrupted.
func (r *ReadReceipts) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
