// Package chatsync keeps a per-conversation message timeline consistent
// across three concurrent input sources (paginated history over
// request/response, live push events over a persistent duplex channel, and
// locally-initiated optimistic sends) while tracking ephemeral typing and
// read-receipt state.
//
// Example:
//
//	client := chatsync.NewClient("tok-...", chatsync.WithBaseURL("https://chat.example.com"))
//	channel := chatsync.NewChannel(client.BaseURL(), "tok-...", nil)
//	_ = channel.Connect(ctx)
//
//	session := chatsync.OpenSession(client, channel, "conv-42", self)
//	defer session.Close()
//
//	_ = session.LoadMore(ctx)
//	for msg := range session.Messages() {
//		fmt.Println(msg.Sender.DisplayName, msg.Content)
//	}
//	session.Send(ctx, "hello")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is used when no WithBaseURL option is given.
	DefaultBaseURL = "https://chat.example.com"

	// DefaultTimeout bounds each request/response call.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the collaborator-side history page size. It is a
	// server contract, not renegotiated by the engine.
	DefaultPageSize = 50
)

// ============================================================================
// Client
// ============================================================================

// Client is the request/response collaborator of the sync engine: paginated
// history fetches, message creation, and read-receipt mutations. It injects
// the bearer token on every call and normalizes error bodies into APIError.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a logger. Background best-effort failures are logged
// here instead of being surfaced.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a chat API client. token may be empty for endpoints that
// allow anonymous access.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the resolved API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// do performs a request and normalizes the response envelope. A non-2xx
// status or an ok=false envelope both come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*apiResult, error) {
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}

	var result apiResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &APIError{Message: "malformed response body", StatusCode: status}
	}

	if status >= 400 || !result.OK {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Message: http.StatusText(status)}
		}
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = status
		}
		return nil, apiErr
	}
	return &result, nil
}

// ============================================================================
// Chat API Methods
// ============================================================================

// messagePage fetches one page of history, newest page first.
func (c *Client) messagePage(ctx context.Context, conversationID string, page, pageSize int) (*historyPayload, error) {
	result, err := c.do(ctx, http.MethodGet, "/api/chat/conversations/"+conversationID+"/messages", nil, map[string]string{
		"page":     fmt.Sprintf("%d", page),
		"pageSize": fmt.Sprintf("%d", pageSize),
	})
	if err != nil {
		return nil, err
	}
	var payload historyPayload
	if err := result.decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode history page: %w", err)
	}
	return &payload, nil
}

// CreateMessage persists a new message and returns it with its final,
// server-assigned identity.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	result, err := c.do(ctx, http.MethodPost, "/api/chat/conversations/"+conversationID+"/messages", map[string]string{
		"content": content,
	}, nil)
	if err != nil {
		return nil, err
	}
	var payload messagePayload
	if err := result.decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode created message: %w", err)
	}
	return &payload.Message, nil
}

// MarkMessageRead marks a single message read on the remote side. The remote
// endpoint is responsible for not double-counting repeated calls.
func (c *Client) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	_, err := c.do(ctx, http.MethodPatch, "/api/chat/conversations/"+conversationID+"/messages/"+messageID+"/read", nil, nil)
	return err
}

// MarkConversationRead marks every message of a conversation read on the
// remote side.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPatch, "/api/chat/conversations/"+conversationID+"/read", nil, nil)
	return err
}
