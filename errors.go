package chatsync

import (
	"encoding/json"
	"fmt"
)

// APIError is the normalized error body of the chat API.
type APIError struct {
	Message    string          `json:"message"`
	StatusCode int             `json:"statusCode,omitempty"`
	Type       string          `json:"type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Type, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// TransportError reports a channel-level failure: the connection is down or
// an emission was attempted while disconnected.
type TransportError struct {
	Reason string
}

func (e *TransportError) Error() string {
	return "transport: " + e.Reason
}

// FetchError reports a failed history page request. The store is left
// untouched; cached messages remain visible to the caller.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return "fetch history: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a failed remote mutation (send or read receipt).
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *MutationError) Unwrap() error { return e.Err }

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
