package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SendState tracks one send attempt through its lifecycle.
type SendState int

const (
	// SendPending means the optimistic entry is visible and the remote
	// create is in flight.
	SendPending SendState = iota
	// SendConfirmed means the provisional entry collapsed into the
	// server-confirmed message.
	SendConfirmed
	// SendFailed means the provisional entry was rolled back.
	SendFailed
)

// Sender turns a compose action into an optimistic local insertion plus a
// remote create, reconciling the server-assigned identity on success and
// rolling the optimistic entry back on failure. Each attempt is an explicit
// pending→confirmed|failed state machine keyed by its correlation token.
type Sender struct {
	client         *Client
	rec            *Reconciler
	store          *Store
	conversationID string
	self           User
	typing         *TypingEmitter // nil when the session has no emitter

	mu       sync.Mutex
	attempts map[string]SendState
}

// NewSender creates the send coordinator for one conversation. typing may be
// nil.
func NewSender(client *Client, rec *Reconciler, store *Store, conversationID string, self User, typing *TypingEmitter) *Sender {
	return &Sender{
		client:         client,
		rec:            rec,
		store:          store,
		conversationID: conversationID,
		self:           self,
		typing:         typing,
		attempts:       make(map[string]SendState),
	}
}

// Send performs one optimistic send. Empty content is rejected with a
// ValidationError before anything is inserted or sent. On success the
// returned message carries the final server identity plus the correlation
// token of the attempt; on failure the provisional entry is gone and the
// caller keeps the content for retry.
func (s *Sender) Send(ctx context.Context, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, &ValidationError{Field: "content", Reason: "must not be empty"}
	}

	clientID := uuid.NewString()
	provisional := Message{
		ID:             ProvisionalID(clientID),
		ClientID:       clientID,
		ConversationID: s.conversationID,
		Sender:         s.self,
		Content:        content,
		Read:           true, // own messages are never unread
		CreatedAt:      time.Now().UTC(),
	}
	s.store.Upsert(provisional)
	s.setState(clientID, SendPending)

	created, err := s.client.CreateMessage(ctx, s.conversationID, content)
	if err != nil {
		s.rec.RollbackSend(clientID)
		s.setState(clientID, SendFailed)
		return Message{}, &MutationError{Op: "send message", Err: err}
	}

	s.rec.ConfirmSend(clientID, *created)
	s.setState(clientID, SendConfirmed)

	if s.typing != nil {
		s.typing.Clear()
	}

	final := *created
	final.ClientID = clientID
	return final, nil
}

// State returns the lifecycle state of a send attempt by correlation token.
func (s *Sender) State(clientID string) (SendState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.attempts[clientID]
	return st, ok
}

func (s *Sender) setState(clientID string, st SendState) {
	s.mu.Lock()
	s.attempts[clientID] = st
	s.mu.Unlock()
}
