package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/eventstream"
	"github.com/taleforge/supportsync/internal/eventstream/eventstreamtest"
	"github.com/taleforge/supportsync/internal/rooms"
)

const wait = 2 * time.Second

func newTestSession(t *testing.T, srv *eventstreamtest.Server) *Session {
	t.Helper()
	s := New(Config{
		URL:            srv.URL() + "/support/ws",
		Token:          "tok",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		PingTimeout:    5 * time.Second,
		Heartbeat:      time.Hour,
	})
	t.Cleanup(s.Disconnect)
	return s
}

func nextEvent(t *testing.T, ch <-chan eventstream.Event) eventstream.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(wait):
		t.Fatal("no event received")
		return eventstream.Event{}
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, wait, 5*time.Millisecond)
}

func TestConnectTagsHandshakeAndJoinsRoom(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	assert.Equal(t, StateIdle, s.State())
	s.Connect(api.RoleUser, "c1")

	conn := srv.NextConn(t, wait)
	assert.Equal(t, "user", conn.Query.Get("role"))
	assert.Equal(t, "c1", conn.Query.Get("conversationId"))
	assert.Equal(t, "Bearer tok", conn.Header.Get("Authorization"))

	frames := conn.ExpectJoins(t, wait, rooms.EventJoin)
	var payload rooms.JoinPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, "c1", payload.ConversationID)

	waitState(t, s, StateConnected)
	require.NoError(t, conn.Push("support:seen", map[string]string{"conversationId": "c1"}))
	ev := nextEvent(t, s.Events())
	assert.Equal(t, "support:seen", ev.Name)
}

func TestAgentJoinsAdminRoom(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	s.Connect(api.RoleAgent, "")
	conn := srv.NextConn(t, wait)
	assert.Empty(t, conn.Query.Get("conversationId"))
	conn.ExpectJoins(t, wait, rooms.EventJoinAdmin)
}

func TestRejoinOnReconnect(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	s.Connect(api.RoleAgent, "c1")
	first := srv.NextConn(t, wait)
	first.ExpectJoins(t, wait, rooms.EventJoin, rooms.EventJoinAdmin)

	first.Drop()

	second := srv.NextConn(t, wait)
	second.ExpectJoins(t, wait, rooms.EventJoin, rooms.EventJoinAdmin)

	// Membership is re-announced before the server pushes, so the push arrives.
	require.NoError(t, second.Push("support:new-message", map[string]any{"conversationId": "c1"}))
	ev := nextEvent(t, s.Events())
	assert.Equal(t, "support:new-message", ev.Name)
	waitState(t, s, StateConnected)
}

func TestAgentRetargetKeepsConnection(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	s.Connect(api.RoleAgent, "c1")
	conn := srv.NextConn(t, wait)
	conn.ExpectJoins(t, wait, rooms.EventJoin, rooms.EventJoinAdmin)
	waitState(t, s, StateConnected)

	s.Retarget("c2")
	f := conn.NextEmit(t, wait)
	assert.Equal(t, rooms.EventJoin, f.Event)
	assert.JSONEq(t, `{"conversationId":"c2"}`, string(f.Data))
	srv.NoConn(t, 100*time.Millisecond)
	assert.Equal(t, "c2", s.ConversationID())
}

func TestUserRetargetReconnects(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	s.Connect(api.RoleUser, "c1")
	first := srv.NextConn(t, wait)
	first.ExpectJoins(t, wait, rooms.EventJoin)
	waitState(t, s, StateConnected)

	s.Connect(api.RoleUser, "c2")
	second := srv.NextConn(t, wait)
	assert.Equal(t, "c2", second.Query.Get("conversationId"))
	second.ExpectJoins(t, wait, rooms.EventJoin)

	select {
	case <-first.Done():
	case <-time.After(wait):
		t.Fatal("old connection was not torn down")
	}
}

func TestDisconnectIsIdempotentAndClosesEvents(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := newTestSession(t, srv)

	var seen []State
	s.cfg.OnState = func(st State) { seen = append(seen, st) }

	s.Connect(api.RoleUser, "c1")
	conn := srv.NextConn(t, wait)
	conn.ExpectJoins(t, wait, rooms.EventJoin)
	waitState(t, s, StateConnected)
	events := s.Events()

	s.Disconnect()
	s.Disconnect()

	assert.Equal(t, StateClosed, s.State())
	_, ok := <-events
	assert.False(t, ok, "events channel should be closed")
	select {
	case <-conn.Done():
	case <-time.After(wait):
		t.Fatal("socket not closed")
	}
	assert.Contains(t, seen, StateConnected)
	assert.Equal(t, StateClosed, seen[len(seen)-1])
}

func TestPingTimeoutTriggersReconnect(t *testing.T) {
	srv := eventstreamtest.NewServer(t)
	s := New(Config{
		URL:            srv.URL(),
		InitialBackoff: 10 * time.Millisecond,
		PingTimeout:    100 * time.Millisecond,
		Heartbeat:      time.Hour,
	})
	t.Cleanup(s.Disconnect)

	s.Connect(api.RoleUser, "c1")
	srv.NextConn(t, wait).ExpectJoins(t, wait, rooms.EventJoin)
	// The test server never pings, so the session must give up and redial.
	srv.NextConn(t, wait).ExpectJoins(t, wait, rooms.EventJoin)
}

func TestDialURL(t *testing.T) {
	s := New(Config{URL: "wss://example.com/support/ws?v=1"})
	got, err := s.dialURL(api.RoleAgent, "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/support/ws?conversationId=a+b&role=agent&v=1", got)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{InitialBackoff: time.Minute}.withDefaults()
	assert.Equal(t, time.Minute, cfg.MaxBackoff)
	assert.Equal(t, DefaultStableAfter, cfg.StableAfter)
	assert.Equal(t, eventstream.DefaultPingTimeout, cfg.PingTimeout)
	assert.Equal(t, DefaultHeartbeat, cfg.Heartbeat)
}
