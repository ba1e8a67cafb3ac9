package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// apiServer is a scripted chat API backend for engine tests.
type apiServer struct {
	srv *httptest.Server

	mu            sync.Mutex
	pages         map[int][]Message // page number -> messages, newest page is 1
	lastPage      int
	failCreate    bool
	failMarkRead  bool
	nextID        int
	lastAuth      string
	createCalls   int
	markReadCalls []string
	markAllCalls  int
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()
	a := &apiServer{pages: make(map[int][]Message), nextID: 1}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *apiServer) client() *Client {
	return NewClient("test-token", WithBaseURL(a.srv.URL))
}

func writeResult(w http.ResponseWriter, status int, result apiResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func writeData(w http.ResponseWriter, v any) {
	data, _ := json.Marshal(v)
	writeResult(w, http.StatusOK, apiResult{OK: true, Data: data})
}

func (a *apiServer) handle(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastAuth = r.Header.Get("Authorization")

	path := strings.TrimPrefix(r.URL.Path, "/api/chat/conversations/")
	parts := strings.Split(path, "/")

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "messages":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		msgs, ok := a.pages[page]
		if !ok {
			writeResult(w, http.StatusNotFound, apiResult{OK: false, Error: &APIError{Message: "no such page", Type: "NOT_FOUND"}})
			return
		}
		writeData(w, historyPayload{Messages: msgs, Page: page, HasNextPage: page < a.lastPage})

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "messages":
		a.createCalls++
		if a.failCreate {
			writeResult(w, http.StatusBadGateway, apiResult{OK: false, Error: &APIError{Message: "upstream unavailable", Type: "UPSTREAM"}})
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		m := Message{
			ID:             fmt.Sprintf("S%d", a.nextID),
			ConversationID: parts[0],
			Sender:         User{ID: "me", DisplayName: "Me"},
			Content:        body.Content,
			Read:           true,
			CreatedAt:      testEpoch.Add(100 * time.Second),
		}
		a.nextID++
		writeData(w, messagePayload{Message: m})

	case r.Method == http.MethodPatch && len(parts) == 4 && parts[3] == "read":
		if a.failMarkRead {
			writeResult(w, http.StatusServiceUnavailable, apiResult{OK: false, Error: &APIError{Message: "try later", Type: "UNAVAILABLE"}})
			return
		}
		a.markReadCalls = append(a.markReadCalls, parts[2])
		writeResult(w, http.StatusOK, apiResult{OK: true})

	case r.Method == http.MethodPatch && len(parts) == 2 && parts[1] == "read":
		if a.failMarkRead {
			writeResult(w, http.StatusServiceUnavailable, apiResult{OK: false, Error: &APIError{Message: "try later", Type: "UNAVAILABLE"}})
			return
		}
		a.markAllCalls++
		writeResult(w, http.StatusOK, apiResult{OK: true})

	default:
		writeResult(w, http.StatusNotFound, apiResult{OK: false, Error: &APIError{Message: "not found"}})
	}
}

func (a *apiServer) readCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.markReadCalls...)
}

func (a *apiServer) allReadCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markAllCalls
}

func (a *apiServer) creates() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.createCalls
}

// setHistory seeds n pages of pageSize messages each, newest page first.
func (a *apiServer) setHistory(conversationID string, pageCount, pageSize int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPage = pageCount
	id := pageCount * pageSize
	for p := 1; p <= pageCount; p++ {
		msgs := make([]Message, 0, pageSize)
		for i := 0; i < pageSize; i++ {
			msgs = append(msgs, testMessage(fmt.Sprintf("m%04d", id), conversationID, "alice", "msg", id))
			id--
		}
		a.pages[p] = msgs
	}
}

// ----------------------------------------------------------------------

func TestClient_InjectsBearerToken(t *testing.T) {
	api := newAPIServer(t)
	api.setHistory("c1", 1, 3)

	_, err := NewHistoryLoader(api.client()).LoadPage(context.Background(), "c1", "")
	require.NoError(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, "Bearer test-token", api.lastAuth)
}

func TestClient_NormalizesErrorBodies(t *testing.T) {
	api := newAPIServer(t)
	api.failCreate = true

	_, err := api.client().CreateMessage(context.Background(), "c1", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "UPSTREAM", apiErr.Type)
	require.Equal(t, "upstream unavailable", apiErr.Message)
}

func TestHistoryLoader_PageTokensWalkOlderHistory(t *testing.T) {
	api := newAPIServer(t)
	api.setHistory("c1", 2, 50)
	loader := NewHistoryLoader(api.client())

	p1, err := loader.LoadPage(context.Background(), "c1", "")
	require.NoError(t, err)
	require.Len(t, p1.Messages, 50)
	require.True(t, p1.HasMore)
	require.NotEmpty(t, p1.NextToken)

	p2, err := loader.LoadPage(context.Background(), "c1", p1.NextToken)
	require.NoError(t, err)
	require.Len(t, p2.Messages, 50)
	require.False(t, p2.HasMore)
	require.Empty(t, p2.NextToken)
}

func TestHistoryLoader_FailureWrapsFetchError(t *testing.T) {
	api := newAPIServer(t)
	// no pages seeded: the backend answers 404

	_, err := NewHistoryLoader(api.client()).LoadPage(context.Background(), "c1", "")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
