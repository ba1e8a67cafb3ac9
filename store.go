package chatsync

import (
	"iter"
	"slices"
	"strings"
	"sync"
)

// Store is the ordered, deduplicated cache of one conversation's messages,
// the single source of truth the UI renders from. It is safe for concurrent
// use; every write path (page merge, push event, local send) funnels through
// Upsert, which is idempotent and keyed by message identity, so arrival order
// between concurrent sources never changes the final sequence.
//
// A conversation's cache only grows during a session. The sole mutation of an
// existing entry is the monotonic unread→read flip, which never reorders the
// sequence. Remove exists only for provisional-send rollback and collapse.
type Store struct {
	mu       sync.RWMutex
	messages map[string]Message
}

// NewStore creates an empty per-conversation message store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string]Message),
	}
}

// compareMessages orders by CreatedAt ascending, ties broken by ID.
func compareMessages(a, b Message) int {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

// Upsert inserts or updates a message by identity. The read flag is merged
// monotonically: once a cached entry is read it never reverts to unread,
// regardless of what a later page or push event carries.
func (s *Store) Upsert(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.messages[m.ID]; ok {
		m.Read = m.Read || existing.Read
		if m.ClientID == "" {
			m.ClientID = existing.ClientID
		}
	}
	s.messages[m.ID] = m
}

// Merge folds a history page into the cache. Pages arrive newest-first, so
// this appends entries at the older end of the visible sequence; entries
// already cached (from a push event or an optimistic send) are deduplicated
// by identity.
func (s *Store) Merge(p Page) {
	for _, m := range p.Messages {
		s.Upsert(m)
	}
}

// Remove deletes a message by identity. Used only to roll back or collapse a
// provisional send; history and push entries are never deleted.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return false
	}
	delete(s.messages, id)
	return true
}

// RemoveByClientID deletes the entry carrying the given send-correlation
// token, if any. This is the collapse key for optimistic sends; content and
// timestamp are never used for matching.
func (s *Store) RemoveByClientID(clientID string) bool {
	if clientID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ClientID == clientID {
			delete(s.messages, id)
			return true
		}
	}
	return false
}

// MarkRead flips a message to read. Returns false if the message is unknown
// or already read.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Read {
		return false
	}
	m.Read = true
	s.messages[id] = m
	return true
}

// MarkAllRead flips every cached message to read and returns how many
// actually transitioned. Calling it again is a local no-op.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	flipped := 0
	for id, m := range s.messages {
		if !m.Read {
			m.Read = true
			s.messages[id] = m
			flipped++
		}
	}
	return flipped
}

// Get returns a cached message by identity.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// Len returns the number of cached messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns the cached messages in ascending timestamp order, ties
// broken by identity.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, compareMessages)
	return out
}

// Sequence returns a lazy, restartable view of the cached messages in
// ascending order. Each range over the sequence observes a fresh snapshot.
func (s *Store) Sequence() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range s.Messages() {
			if !yield(m) {
				return
			}
		}
	}
}
