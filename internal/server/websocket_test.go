package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

func rejectedHandshake(t *testing.T, url string, header http.Header) (int, errorBody) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()

	var body errorBody
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

// TestHandshakeAuthentication verifies that unauthenticated handshakes are
// refused with distinct reasons and never reach the hub.
func TestHandshakeAuthentication(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	t.Run("missing token", func(t *testing.T) {
		status, body := rejectedHandshake(t, wsURL(t, ts, ""), nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "authentication_missing", body.Error)
		assert.NotEmpty(t, body.Message)
	})

	t.Run("invalid token", func(t *testing.T) {
		status, body := rejectedHandshake(t, wsURL(t, ts, "not-a-jwt"), nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "authentication_invalid", body.Error)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		status, body := rejectedHandshake(t, wsURL(t, ts, token), nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "authentication_invalid", body.Error)
		assert.Contains(t, body.Message, "expired")
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token, err := auth.SignToken(auth.JWTConfig{Secret: "other"}, "alice", "Alice", time.Minute)
		require.NoError(t, err)

		status, _ := rejectedHandshake(t, wsURL(t, ts, token), nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	users, err := srv.Hub().OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users, "rejected handshakes never register")

	t.Run("bearer header", func(t *testing.T) {
		header := http.Header{"Authorization": {"Bearer " + signTestToken(t, "dave", "Dave")}}
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, ""), header)
		require.NoError(t, err)
		_ = resp.Body.Close()
		defer func() { _ = conn.Close() }()

		st := readUntil(t, conn, EventUserStatus)
		var status UserStatus
		unmarshalData(t, st, &status)
		assert.Equal(t, UserStatus{UserID: "dave", Status: StatusOnline}, status)
	})
}

func TestHandshakeRejectsDisallowedOrigin(t *testing.T) {
	_, ts := newTestServer(t, nil)

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, signTestToken(t, "alice", "")), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/ws", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestRoomConversation runs the two-user scenario end to end: presence,
// room fan-out with sender echo, typing relays and disconnect cleanup.
func TestRoomConversation(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	h := srv.Hub()

	alice := dialAs(t, srv, ts, "alice", "Alice")
	var st UserStatus
	unmarshalData(t, readUntil(t, alice, EventUserStatus), &st)
	assert.Equal(t, UserStatus{UserID: "alice", Status: StatusOnline}, st)

	info, err := h.Presence(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Connections)

	emitFrame(t, alice, EventJoinRoom, "team-x")

	bob := dialAs(t, srv, ts, "bob", "Bob")
	unmarshalData(t, readUntil(t, alice, EventUserStatus), &st)
	assert.Equal(t, UserStatus{UserID: "bob", Status: StatusOnline}, st)

	emitFrame(t, bob, EventJoinRoom, map[string]string{"room": "team-x"})
	require.Eventually(t, func() bool { return roomSize(h, "team-x") == 2 }, eventTimeout, 10*time.Millisecond)

	before := time.Now()
	emitFrame(t, bob, EventSendMessage, SendMessagePayload{Room: "team-x", Message: "hi", SenderID: "bob", SenderName: "Bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var msg ChatMessage
		unmarshalData(t, readUntil(t, conn, EventReceiveMessage), &msg)
		assert.Equal(t, "team-x", msg.Room)
		assert.Equal(t, "hi", msg.Message)
		assert.Equal(t, "bob", msg.SenderID)
		assert.Equal(t, "Bob", msg.SenderName)
		assert.False(t, msg.Timestamp.Before(before.Add(-time.Second)), "timestamp is set by the server")
	}

	emitFrame(t, alice, EventTyping, TypingPayload{Room: "team-x", User: "Alice"})
	var typing TypingPayload
	unmarshalData(t, readUntil(t, bob, EventUserTyping), &typing)
	assert.Equal(t, TypingPayload{Room: "team-x", User: "Alice"}, typing)
	expectNoEvent(t, alice, EventUserTyping, 150*time.Millisecond)

	require.NoError(t, alice.Close())

	unmarshalData(t, readUntil(t, bob, EventUserStatus), &st)
	assert.Equal(t, UserStatus{UserID: "alice", Status: StatusOffline}, st)

	require.Eventually(t, func() bool {
		info, err := h.Presence(context.Background(), "alice")
		return err == nil && !info.Online
	}, eventTimeout, 10*time.Millisecond)
	assert.Equal(t, 1, roomSize(h, "team-x"))

	emitFrame(t, bob, EventSendMessage, SendMessagePayload{Room: "team-x", Message: "anyone?"})
	var msg ChatMessage
	unmarshalData(t, readUntil(t, bob, EventReceiveMessage), &msg)
	assert.Equal(t, "anyone?", msg.Message)
	expectNoEvent(t, bob, EventUserStatus, 150*time.Millisecond)
}

func TestMultipleConnectionsShareOnePresence(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	observer := dialAs(t, srv, ts, "observer", "")
	readUntil(t, observer, EventUserStatus)

	first := dialAs(t, srv, ts, "alice", "Alice")
	var st UserStatus
	unmarshalData(t, readUntil(t, observer, EventUserStatus), &st)
	assert.Equal(t, UserStatus{UserID: "alice", Status: StatusOnline}, st)

	second := dialAs(t, srv, ts, "alice", "Alice")
	require.Eventually(t, func() bool {
		info, err := srv.Hub().Presence(context.Background(), "alice")
		return err == nil && info.Connections == 2
	}, eventTimeout, 10*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		info, err := srv.Hub().Presence(context.Background(), "alice")
		return err == nil && info.Connections == 1
	}, eventTimeout, 10*time.Millisecond)

	require.NoError(t, srv.Hub().NotifyUser(context.Background(), "alice", Notification{Type: "ping", Message: "still there"}))
	var n Notification
	unmarshalData(t, readUntil(t, second, EventNotification), &n)
	assert.Equal(t, "ping", n.Type)

	// The next status the observer sees must be the final offline, proving
	// the first disconnect was silent.
	require.NoError(t, second.Close())
	unmarshalData(t, readUntil(t, observer, EventUserStatus), &st)
	assert.Equal(t, UserStatus{UserID: "alice", Status: StatusOffline}, st)
}

func TestRateLimitDropsExcessEvents(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})

	alice := dialAs(t, srv, ts, "alice", "")
	emitFrame(t, alice, EventJoinRoom, "flood")
	for i := 0; i < 5; i++ {
		emitFrame(t, alice, EventSendMessage, SendMessagePayload{Room: "flood", Message: "spam"})
	}

	received := 0
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, alice, time.Until(deadline))
		if err != nil {
			break
		}
		if env.Event == EventReceiveMessage {
			received++
		}
	}
	assert.Equal(t, 2, received, "the join and two messages fit the burst")
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *Config) { cfg.MaxMessageSize = 128 })

	alice := dialAs(t, srv, ts, "alice", "")
	emitFrame(t, alice, EventSendMessage, SendMessagePayload{Room: "r", Message: strings.Repeat("x", 512)})

	require.Eventually(t, func() bool {
		info, err := srv.Hub().Presence(context.Background(), "alice")
		return err == nil && !info.Online
	}, eventTimeout, 10*time.Millisecond)

	var err error
	for err == nil {
		_, err = readEnvelope(t, alice, eventTimeout)
	}
	assert.False(t, isTimeout(err), "connection should be closed, not idle: %v", err)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	conns := []*websocket.Conn{
		dialAs(t, srv, ts, "alice", ""),
		dialAs(t, srv, ts, "bob", ""),
	}

	require.NoError(t, srv.Shutdown(2*time.Second))

	for _, conn := range conns {
		var err error
		for err == nil {
			_, err = readEnvelope(t, conn, eventTimeout)
		}
		assert.False(t, isTimeout(err), "shutdown should close the socket: %v", err)
	}

	// The upgrade still succeeds, but the stopped hub closes it at once.
	late, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, signTestToken(t, "carol", "")), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = late.Close() }()

	_, err = readEnvelope(t, late, eventTimeout)
	require.Error(t, err)
	assert.False(t, isTimeout(err))
}

func TestHealthAndTestPage(t *testing.T) {
	_, ts := newTestServer(t, nil)

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "GoChat realtime server is running!", string(body))
	}

	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
}

func TestConcurrentClientsInOneRoom(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	const n = 5

	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dialAs(t, srv, ts, fmt.Sprintf("user-%d", i), "")
		emitFrame(t, conns[i], EventJoinRoom, "lobby")
	}
	require.Eventually(t, func() bool { return roomSize(srv.Hub(), "lobby") == n }, eventTimeout, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			raw, _ := json.Marshal(SendMessagePayload{Room: "lobby", Message: fmt.Sprintf("msg-%d", i)})
			_ = conn.WriteJSON(Envelope{Event: EventSendMessage, Data: raw})
		}(i, conn)
	}
	wg.Wait()

	for _, conn := range conns {
		seen := make(map[string]bool)
		for len(seen) < n {
			var msg ChatMessage
			unmarshalData(t, readUntil(t, conn, EventReceiveMessage), &msg)
			seen[msg.Message] = true
		}
		assert.Len(t, seen, n)
	}
}
