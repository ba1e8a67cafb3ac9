package chatsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, api *apiServer, opts ...SessionOption) (*Session, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	s := OpenSession(api.client(), ch, "c1", User{ID: "me", DisplayName: "Me"}, opts...)
	t.Cleanup(s.Close)
	return s, ch
}

func sessionMessages(s *Session) []Message {
	var out []Message
	for m := range s.Messages() {
		out = append(out, m)
	}
	return out
}

func TestSession_LoadsFullHistoryAcrossPages(t *testing.T) {
	api := newAPIServer(t)
	api.setHistory("c1", 2, 50)
	s, _ := newTestSession(t, api)

	require.NoError(t, s.LoadMore(context.Background()))
	require.Len(t, sessionMessages(s), 50)
	require.True(t, s.HasMore())

	require.NoError(t, s.LoadMore(context.Background()))
	msgs := sessionMessages(s)
	require.Len(t, msgs, 100)
	require.False(t, s.HasMore())

	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "timeline must ascend")
	}

	// exhausted history makes further calls no-ops
	require.NoError(t, s.LoadMore(context.Background()))
	require.Len(t, sessionMessages(s), 100)
}

func TestSession_FetchFailureKeepsCachedMessages(t *testing.T) {
	api := newAPIServer(t)
	api.setHistory("c1", 2, 3)
	s, _ := newTestSession(t, api)

	require.NoError(t, s.LoadMore(context.Background()))
	require.Len(t, sessionMessages(s), 3)

	api.mu.Lock()
	delete(api.pages, 2)
	api.mu.Unlock()

	err := s.LoadMore(context.Background())
	require.Error(t, err)
	require.Error(t, s.Err())
	require.Len(t, sessionMessages(s), 3, "cached timeline survives the failure")
	require.True(t, s.HasMore(), "a failed fetch must stay retryable")

	api.mu.Lock()
	api.pages[2] = []Message{testMessage("m0", "c1", "alice", "older", 0)}
	api.mu.Unlock()

	require.NoError(t, s.LoadMore(context.Background()))
	require.NoError(t, s.Err(), "a successful load clears the recorded error")
	require.Len(t, sessionMessages(s), 4)
}

func TestSession_PushEventsLandInTimeline(t *testing.T) {
	api := newAPIServer(t)
	s, ch := newTestSession(t, api, WithAutoReadDelay(time.Hour))

	ch.push(t, EventNewMessage, MessageEvent{
		ConversationID: "c1",
		Message:        testMessage("m1", "c1", "alice", "hi", 1),
	})

	msgs := sessionMessages(s)
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestSession_IgnoresEventsForOtherConversations(t *testing.T) {
	api := newAPIServer(t)
	s, ch := newTestSession(t, api, WithAutoReadDelay(time.Hour))

	ch.push(t, EventNewMessage, MessageEvent{
		ConversationID: "c2",
		Message:        testMessage("m1", "c2", "alice", "hi", 1),
	})

	require.Empty(t, sessionMessages(s))
}

func TestSession_OptimisticSendCollapsesToServerIdentity(t *testing.T) {
	api := newAPIServer(t)
	s, _ := newTestSession(t, api)

	sent, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "S1", sent.ID)

	msgs := sessionMessages(s)
	require.Len(t, msgs, 1)
	require.Equal(t, "S1", msgs[0].ID)

	state, ok := s.SendState(sent.ClientID)
	require.True(t, ok)
	require.Equal(t, SendConfirmed, state)
}

func TestSession_ReadEventFlipsFlag(t *testing.T) {
	api := newAPIServer(t)
	s, ch := newTestSession(t, api, WithAutoReadDelay(time.Hour))

	ch.push(t, EventNewMessage, MessageEvent{
		ConversationID: "c1",
		Message:        testMessage("m1", "c1", "alice", "hi", 1),
	})
	ch.push(t, EventMessageRead, ReadEvent{ConversationID: "c1", MessageID: "m1"})

	msgs := sessionMessages(s)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Read)
}

func TestSession_TracksRemoteTypingButNotOwn(t *testing.T) {
	api := newAPIServer(t)
	s, ch := newTestSession(t, api)

	ch.push(t, EventUserTyping, typingStart("c1", "alice"))
	ch.push(t, EventUserTyping, typingStart("c1", "me"))

	require.Equal(t, []string{"alice"}, s.TypingUsers())
}

func TestSession_CloseUnsubscribesAndLeavesRoom(t *testing.T) {
	api := newAPIServer(t)
	ch := newFakeChannel()
	s := OpenSession(api.client(), ch, "c1", User{ID: "me"})
	require.Equal(t, 1, ch.joins["c1"])

	s.Close()
	s.Close() // idempotent
	require.Equal(t, 1, ch.leaves["c1"])

	ch.push(t, EventNewMessage, MessageEvent{
		ConversationID: "c1",
		Message:        testMessage("m1", "c1", "alice", "late", 1),
	})
	require.Empty(t, sessionMessages(s), "handlers must not observe events after close")
}

func TestSession_TwoSessionsStayIsolated(t *testing.T) {
	api := newAPIServer(t)
	ch := newFakeChannel()
	s1 := OpenSession(api.client(), ch, "c1", User{ID: "me"}, WithAutoReadDelay(time.Hour))
	t.Cleanup(s1.Close)
	s2 := OpenSession(api.client(), ch, "c2", User{ID: "me"}, WithAutoReadDelay(time.Hour))
	t.Cleanup(s2.Close)

	ch.push(t, EventNewMessage, MessageEvent{
		ConversationID: "c1",
		Message:        testMessage("m1", "c1", "alice", "for c1", 1),
	})

	require.Len(t, sessionMessages(s1), 1)
	require.Empty(t, sessionMessages(s2))
}
