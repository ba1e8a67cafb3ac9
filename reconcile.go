package chatsync

import (
	"github.com/rs/zerolog"
)

// Reconciler merges messages arriving from independent sources (history
// pages, push events, and local sends) into one Store under a single
// consistency rule: upsert keyed by identity. Because the upsert is
// idempotent and the store orders by timestamp, the merge is commutative
// across arrival orders; out-of-order delivery between a pending page fetch,
// a push event, and a send confirmation self-heals without locks beyond the
// store's own, and without version vectors or sequencing buffers.
type Reconciler struct {
	store          *Store
	conversationID string
	self           User
	receipts       *ReadReceipts // nil disables automatic read receipts
	log            zerolog.Logger
}

// NewReconciler creates the engine for one conversation. receipts may be nil.
func NewReconciler(store *Store, conversationID string, self User, receipts *ReadReceipts, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:          store,
		conversationID: conversationID,
		self:           self,
		receipts:       receipts,
		log:            log,
	}
}

// ApplyPage merges a history page into the store.
func (r *Reconciler) ApplyPage(p Page) {
	r.store.Merge(p)
}

// ApplyMessage consumes a newMessage push event. Events for other
// conversations are dropped: the transport is shared, so the scope check
// happens here even though rooms already filter server-side. The message is
// upserted, not appended: it may already exist from an optimistic send or a
// concurrent history fetch, and identity is the sole deduplication key.
// Messages from other senders get an automatic read receipt scheduled.
func (r *Reconciler) ApplyMessage(ev MessageEvent) {
	if ev.ConversationID != r.conversationID {
		r.log.Debug().Str("conversationId", ev.ConversationID).Msg("dropped message event for other conversation")
		return
	}
	r.store.Upsert(ev.Message)
	if r.receipts != nil && ev.Message.Sender.ID != r.self.ID {
		r.receipts.ScheduleAutoRead(ev.Message.ID)
	}
}

// ApplyRead consumes a messageRead push event.
func (r *Reconciler) ApplyRead(ev ReadEvent) {
	if ev.ConversationID != r.conversationID {
		return
	}
	r.store.MarkRead(ev.MessageID)
}

// ConfirmSend collapses a provisional entry into its server-confirmed
// counterpart. The removal is keyed by the send-correlation token carried on
// the provisional entry, never by content or timestamp, which are ambiguous
// under rapid duplicate sends. The server message may already be in the
// store if its push event raced the HTTP response; the upsert absorbs that.
func (r *Reconciler) ConfirmSend(clientID string, final Message) {
	r.store.RemoveByClientID(clientID)
	final.ClientID = clientID
	r.store.Upsert(final)
}

// RollbackSend removes a provisional entry after its remote create failed,
// leaving zero visible messages for the attempt.
func (r *Reconciler) RollbackSend(clientID string) {
	r.store.RemoveByClientID(clientID)
}
