package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/auth"
)

const (
	testSecret   = "test-secret"
	eventTimeout = 2 * time.Second
)

func testConfig() Config {
	cfg := NewConfig()
	cfg.JWTSecret = testSecret
	return *cfg
}

// newTestHub starts a hub with clients that have no socket; frames are read
// straight from their send channels.
func newTestHub(t *testing.T, customize func(*Config), opts ...HubOption) *Hub {
	t.Helper()
	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}

	h := NewHub(cfg, zap.NewNop(), opts...)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })
	return h
}

func newTestClient(t *testing.T, h *Hub, userID, name string) *Client {
	t.Helper()
	c := NewClient(nil, h, auth.Identity{UserID: userID, Name: name}, "pipe")
	require.True(t, h.Register(c))
	flush(t, h)
	return c
}

// flush waits until the hub has processed everything submitted before it.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(t, h.query(ctx, func() {}))
}

// roomSize reports the member count of room, or -1 if the hub is gone.
func roomSize(h *Hub, room string) int {
	n := -1
	_ = h.query(context.Background(), func() { n = h.rooms.size(room) })
	return n
}

func decodeFrame(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

// nextEvent returns the next queued frame of c.
func nextEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return decodeFrame(t, frame)
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for event on %s", c.identity.UserID)
		return Envelope{}
	}
}

// expectEvent skips frames until one named event arrives.
func expectEvent(t *testing.T, c *Client, event string) Envelope {
	t.Helper()
	for {
		env := nextEvent(t, c)
		if env.Event == event {
			return env
		}
	}
}

// expectNoFrames asserts nothing is queued for c once the hub is idle.
func expectNoFrames(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	flush(t, h)
	select {
	case frame, ok := <-c.send:
		if ok {
			t.Fatalf("expected no frames for %s, got %s", c.identity.UserID, frame)
		}
	default:
	}
}

func drainFrames(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func unmarshalData(t *testing.T, env Envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

// newTestServer starts a full server behind httptest.
func newTestServer(t *testing.T, customize func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}

	srv := New(cfg, auth.NewJWTVerifier(auth.JWTConfig{Secret: cfg.JWTSecret}), zap.NewNop())
	srv.Start()
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.Shutdown(2 * time.Second) })
	return srv, ts
}

func wsURL(t *testing.T, ts *httptest.Server, token string) string {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		u.RawQuery = url.Values{auth.TokenQueryParam: {token}}.Encode()
	}
	return u.String()
}

func signTestToken(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := auth.SignToken(auth.JWTConfig{Secret: testSecret}, userID, name, time.Minute)
	require.NoError(t, err)
	return token
}

// dialAs connects an authenticated socket and waits until the hub has
// registered it.
func dialAs(t *testing.T, srv *Server, ts *httptest.Server, userID, name string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(t, ts, signTestToken(t, userID, name)), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		info, err := srv.Hub().Presence(context.Background(), userID)
		return err == nil && info.Online
	}, eventTimeout, 10*time.Millisecond)
	return conn
}

func emitFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) (Envelope, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var env Envelope
	err := conn.ReadJSON(&env)
	return env, err
}

// readUntil skips frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, conn, time.Until(deadline))
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
	t.Fatalf("timed out waiting for %s", event)
	return Envelope{}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// expectNoEvent reads for wait and fails if event shows up. A timed out
// read leaves the connection unusable, so call it last on conn.
func expectNoEvent(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		env, err := readEnvelope(t, conn, time.Until(deadline))
		if err != nil {
			if isTimeout(err) {
				return
			}
			t.Fatalf("unexpected read error: %v", err)
		}
		if env.Event == event {
			t.Fatalf("unexpected %s event: %s", event, env.Data)
		}
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(InternalKeyHeader, key)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
