package chatsync

import (
	"context"
	"strconv"
)

// HistoryLoader fetches ordered message pages for a conversation. It is
// purely functional given (conversationID, continuation token); the page
// size is fixed by the server contract.
type HistoryLoader struct {
	client   *Client
	pageSize int
}

// NewHistoryLoader creates a loader bound to the chat API client.
func NewHistoryLoader(client *Client) *HistoryLoader {
	return &HistoryLoader{client: client, pageSize: DefaultPageSize}
}

// LoadPage fetches one page. An empty token returns the newest page; each
// subsequent call with the returned NextToken yields the next-older page.
// HasMore stays true until a page comes back without a continuation token.
// On failure nothing is merged anywhere and the error wraps as FetchError.
func (l *HistoryLoader) LoadPage(ctx context.Context, conversationID, token string) (Page, error) {
	page := 1
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return Page{}, &ValidationError{Field: "token", Reason: "not a continuation token"}
		}
		page = n
	}

	payload, err := l.client.messagePage(ctx, conversationID, page, l.pageSize)
	if err != nil {
		return Page{}, &FetchError{Err: err}
	}

	out := Page{
		Messages: payload.Messages,
		HasMore:  payload.HasNextPage,
	}
	if payload.HasNextPage {
		out.NextToken = strconv.Itoa(page + 1)
	}
	return out, nil
}
