package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"huddle/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// scriptedServer hands every accepted connection to the next handler in line.
type scriptedServer struct {
	mu       sync.Mutex
	handlers []func(conn *websocket.Conn)
	accepted int
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	idx := s.accepted
	s.accepted++
	s.mu.Unlock()

	if idx < len(s.handlers) {
		s.handlers[idx](conn)
		return
	}
	// Hold extra connections open until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func startServer(t *testing.T, handlers ...func(conn *websocket.Conn)) (*scriptedServer, string) {
	t.Helper()
	s := &scriptedServer{handlers: handlers}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, events <-chan models.Event) models.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func waitState(t *testing.T, events <-chan models.Event, want models.ConnectionState) {
	t.Helper()
	for {
		ev := nextEvent(t, events)
		if ev.Kind == models.EventState && ev.State == want {
			return
		}
	}
}

func fixedNow() time.Time { return time.UnixMilli(5000) }

func TestTransport_HistoryOnConnect(t *testing.T) {
	_, url := startServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"history","items":[{"id":"m1","from":"Alice","text":"hi","ts":1000}]}`))
		_, _, _ = conn.ReadMessage()
	})

	tr := New(Config{URL: url, MinBackoff: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	events := tr.Events()
	require.Equal(t, models.ConnectionConnecting, nextEvent(t, events).State)
	require.Equal(t, models.ConnectionOpen, nextEvent(t, events).State)

	ev := nextEvent(t, events)
	require.Equal(t, models.EventHistory, ev.Kind)
	require.Equal(t, []models.Message{
		{ID: "m1", Sender: "Alice", Kind: models.MessageKindChat, Text: "hi", Timestamp: 1000},
	}, ev.Messages)
	require.Equal(t, models.ConnectionOpen, tr.State())
}

func TestTransport_FramesInArrivalOrder(t *testing.T) {
	_, url := startServer(t, func(conn *websocket.Conn) {
		for _, frame := range []string{
			`{"type":"chat","id":"a","from":"Bob","text":"one","ts":1}`,
			`{"type":"delete","id":"a"}`,
			`not json at all`,
			`{"type":"error","message":"slow down"}`,
			`{"type":"clear"}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		_, _, _ = conn.ReadMessage()
	})

	tr := New(Config{URL: url, MinBackoff: 10 * time.Millisecond})
	tr.cfg.Codec.Now = fixedNow
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	events := tr.Events()
	waitState(t, events, models.ConnectionOpen)

	ev := nextEvent(t, events)
	require.Equal(t, models.EventAppend, ev.Kind)
	require.Equal(t, "a", ev.Message.ID)

	ev = nextEvent(t, events)
	require.Equal(t, models.EventDelete, ev.Kind)
	require.Equal(t, "a", ev.ID)

	ev = nextEvent(t, events)
	require.Equal(t, models.EventAppend, ev.Kind)
	require.Equal(t, models.SystemSender, ev.Message.Sender)
	require.Equal(t, "not json at all", ev.Message.Text)

	ev = nextEvent(t, events)
	require.Equal(t, models.EventNotice, ev.Kind)
	require.Equal(t, "slow down", ev.Notice)

	require.Equal(t, models.EventClear, nextEvent(t, events).Kind)
}

func TestTransport_SendRequiresOpen(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:1/never"})
	err := tr.Send(models.NewChatFrame("Alice", "hello"))
	require.True(t, errors.Is(err, models.ErrNotConnected))
}

func TestTransport_SendReachesServer(t *testing.T) {
	got := make(chan models.ChatFrame, 1)
	_, url := startServer(t, func(conn *websocket.Conn) {
		var frame models.ChatFrame
		if err := conn.ReadJSON(&frame); err == nil {
			got <- frame
		}
		_, _, _ = conn.ReadMessage()
	})

	tr := New(Config{URL: url, MinBackoff: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	waitState(t, tr.Events(), models.ConnectionOpen)
	require.NoError(t, tr.Send(models.NewChatFrame("Alice", "hello")))

	select {
	case frame := <-got:
		require.Equal(t, models.ChatFrame{Type: models.FrameChat, From: "Alice", Text: "hello"}, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestTransport_Reconnects(t *testing.T) {
	server, url := startServer(t,
		func(conn *websocket.Conn) {
			// Drop the first connection right away
		},
		func(conn *websocket.Conn) {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","id":"again","from":"Bob","text":"back","ts":2}`))
			_, _, _ = conn.ReadMessage()
		},
	)

	tr := New(Config{URL: url, MinBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	events := tr.Events()
	waitState(t, events, models.ConnectionOpen)
	waitState(t, events, models.ConnectionClosed)
	waitState(t, events, models.ConnectionOpen)

	ev := nextEvent(t, events)
	require.Equal(t, models.EventAppend, ev.Kind)
	require.Equal(t, "again", ev.Message.ID)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.Equal(t, 2, server.accepted)
}

func TestTransport_BackoffDoubles(t *testing.T) {
	var mu sync.Mutex
	var dials []time.Time
	dial := func(ctx context.Context, url string) (Conn, error) {
		mu.Lock()
		dials = append(dials, time.Now())
		mu.Unlock()
		return nil, errors.New("refused")
	}

	tr := New(Config{URL: "ws://x", Dial: dial, MinBackoff: 20 * time.Millisecond, MaxBackoff: 80 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, tr.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	// 0, 20, 60, 140, 220, 300, 380 ms: the delay doubles and then stays at the cap
	require.GreaterOrEqual(t, len(dials), 4)
	require.LessOrEqual(t, len(dials), 8)
	require.GreaterOrEqual(t, dials[2].Sub(dials[1]), 35*time.Millisecond)
}

func TestTransport_RunTeardown(t *testing.T) {
	_, url := startServer(t)

	tr := New(Config{URL: url})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	waitState(t, tr.Events(), models.ConnectionOpen)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Drain whatever is left; the channel must end closed
	for range tr.Events() {
	}
	require.Equal(t, models.ConnectionClosed, tr.State())
	require.True(t, errors.Is(tr.Send(models.NewClearFrame("Alice")), models.ErrNotConnected))
	require.ErrorIs(t, tr.Run(context.Background()), ErrAlreadyRunning)
}

func TestRoomURL(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		room     string
		want     string
	}{
		{"Placeholder", "ws://host/ws/{room}", "lobby", "ws://host/ws/lobby"},
		{"Appended", "ws://host/ws/", "lobby", "ws://host/ws/lobby"},
		{"Escaped", "ws://host/ws/{room}?v=1", "a b", "ws://host/ws/a%20b?v=1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, RoomURL(tc.template, tc.room))
		})
	}
}
