package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	conns  chan *websocket.Conn
	frames chan Event

	mu      sync.Mutex
	headers []http.Header
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 4), frames: make(chan Event, 16)}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.headers = append(ts.headers, r.Header.Clone())
		ts.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			ts.frames <- ev
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func nextEvent(t *testing.T, ch Channel) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event queue closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestChannelExchangesFrames(t *testing.T) {
	ts := newTestServer(t)
	d := NewDialer(Config{URL: ts.url(), RetryInterval: 10 * time.Millisecond}, zap.NewNop())
	d.SetToken("tok")

	ch, err := d.Connect(context.Background(), "alice")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, EventConnect, nextEvent(t, ch).Name)
	ts.mu.Lock()
	assert.Equal(t, "Bearer tok", ts.headers[0].Get("Authorization"))
	ts.mu.Unlock()

	require.NoError(t, ch.Emit(context.Background(), EventUserConnected, "alice"))
	select {
	case frame := <-ts.frames:
		assert.Equal(t, EventUserConnected, frame.Name)
		var user string
		require.NoError(t, frame.Decode(&user))
		assert.Equal(t, "alice", user)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive the frame")
	}

	server := <-ts.conns
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"receive_message","data":{"id":"m1","senderId":"bob","recipientId":"alice","content":"hi"}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"friendship_update","data":{"userId":"bob","status":"FRIENDLY"}}`)))

	ev := nextEvent(t, ch)
	assert.Equal(t, EventReceiveMessage, ev.Name)
	var payload struct {
		ID string `json:"id"`
	}
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, "m1", payload.ID)
	assert.Equal(t, EventFriendshipUpdate, nextEvent(t, ch).Name, "malformed frames are skipped")
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	d := NewDialer(Config{URL: ts.url(), RetryInterval: 10 * time.Millisecond}, zap.NewNop())

	ch, err := d.Connect(context.Background(), "alice")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, EventConnect, nextEvent(t, ch).Name)
	first := <-ts.conns
	require.NoError(t, first.Close())

	drop := nextEvent(t, ch)
	assert.Equal(t, EventConnectError, drop.Name)
	assert.Error(t, drop.Err)
	assert.Equal(t, EventConnect, nextEvent(t, ch).Name)
}

func TestChannelGivesUpAfterMaxAttempts(t *testing.T) {
	ts := newTestServer(t)
	url := ts.url()
	ts.Close()

	d := NewDialer(Config{URL: url, MaxAttempts: 3, RetryInterval: 5 * time.Millisecond}, zap.NewNop())
	ch, err := d.Connect(context.Background(), "alice")
	require.NoError(t, err)
	defer ch.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, EventConnectError, nextEvent(t, ch).Name)
	}
	last := nextEvent(t, ch)
	assert.Equal(t, EventDisconnect, last.Name)
	assert.Error(t, last.Err)

	select {
	case _, ok := <-ch.Events():
		assert.False(t, ok, "queue should be closed after disconnect")
	case <-time.After(3 * time.Second):
		t.Fatal("event queue was not closed")
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	d := NewDialer(Config{URL: ts.url()}, zap.NewNop())

	ch, err := d.Connect(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, EventConnect, nextEvent(t, ch).Name)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Emit(context.Background(), EventUserConnected, "alice"), ErrClosed)

	for range ch.Events() {
	}
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := NewDialer(Config{}, zap.NewNop()).Connect(context.Background(), "alice")
	require.Error(t, err)
}

func TestChannelRedialBudgetAfterDrop(t *testing.T) {
	const interval = 50 * time.Millisecond
	var (
		mu       sync.Mutex
		attempts []time.Time
	)
	upgrader := websocket.Upgrader{}
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()
		if n > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	d := NewDialer(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), MaxAttempts: 3, RetryInterval: interval}, zap.NewNop())
	ch, err := d.Connect(context.Background(), "alice")
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, EventConnect, nextEvent(t, ch).Name)
	dropped := time.Now()
	require.NoError(t, (<-accepted).Close())

	assert.Equal(t, EventConnectError, nextEvent(t, ch).Name, "drop")
	for i := 0; i < 3; i++ {
		assert.Equal(t, EventConnectError, nextEvent(t, ch).Name, "failed redial %d", i+1)
	}
	assert.Equal(t, EventDisconnect, nextEvent(t, ch).Name)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 4, "one dial to connect plus three redials")
	assert.GreaterOrEqual(t, attempts[1].Sub(dropped), interval, "first redial waits for the retry interval")
	for i := 2; i < len(attempts); i++ {
		assert.GreaterOrEqual(t, attempts[i].Sub(attempts[i-1]), interval)
	}
}
