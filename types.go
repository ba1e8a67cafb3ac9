package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Domain Types
// ============================================================================

// User identifies a chat participant.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Message is a single entry in a conversation timeline.
//
// ID is server-assigned and globally unique within a conversation once
// persisted. Messages created by an optimistic local send carry a provisional
// ID ("local-" + ClientID) until the server confirms; ClientID is the
// send-correlation token and stays empty on messages delivered by the server.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Sender         User      `json:"sender"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Provisional reports whether the message is an unconfirmed local send.
func (m Message) Provisional() bool {
	return m.ClientID != "" && m.ID == ProvisionalID(m.ClientID)
}

// ProvisionalID builds the temporary identity for an in-flight send.
func ProvisionalID(clientID string) string {
	return "local-" + clientID
}

// ConversationType distinguishes direct and group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// Conversation is the participant-scoped container a timeline belongs to.
// The engine only reads its identity and participants; the conversation list
// itself is owned by a separate collaborator.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []User           `json:"participants"`
	RelatedID    string           `json:"relatedId,omitempty"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
}

// Page is one ordered batch of history. It is not retained beyond being
// merged into a Store; NextToken is opaque to everything but the loader.
type Page struct {
	Messages  []Message `json:"messages"`
	NextToken string    `json:"nextToken,omitempty"`
	HasMore   bool      `json:"hasMore"`
}

// ============================================================================
// Push Event Payloads
// ============================================================================

// Event names delivered over the realtime channel.
const (
	EventNewMessage  = "newMessage"
	EventMessageRead = "messageRead"
	EventUserTyping  = "userTyping"

	// Client-emitted events.
	EventJoinRoom  = "joinRoom"
	EventLeaveRoom = "leaveRoom"
)

// MessageEvent announces a message pushed into a conversation.
type MessageEvent struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// ReadEvent announces that a message transitioned to read. The transition is
// monotonic and idempotent; applying it twice has no additional effect.
type ReadEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// TypingEvent announces a change in a user's typing state. Never persisted.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	IsTyping       bool   `json:"isTyping"`
}

// RoomEvent is the payload for joinRoom/leaveRoom emissions.
type RoomEvent struct {
	ConversationID string `json:"conversationId"`
}

// ============================================================================
// API Envelope
// ============================================================================

// apiResult is the generic response envelope of the chat API.
type apiResult struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// decode unmarshals the Data field into the provided type.
func (r *apiResult) decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// historyPayload is the wire shape of a history page.
type historyPayload struct {
	Messages    []Message `json:"messages"`
	Page        int       `json:"page"`
	HasNextPage bool      `json:"hasNextPage"`
}

// messagePayload is the wire shape of a create-message response.
type messagePayload struct {
	Message Message `json:"message"`
}
