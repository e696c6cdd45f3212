package chat

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-broker/internal/config"
)

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Rooms:         []string{"general", "random", "tech"},
		HistoryLimit:  100,
		RejectInvalid: true,
	}
}

func newTestManager(t *testing.T, mutate ...func(*config.BrokerConfig)) *ChatManager {
	t.Helper()
	cfg := testBrokerConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewManager(cfg, zerolog.Nop(), nil)
}

// connect registers a client with no socket behind it.
func connect(t *testing.T, m *ChatManager, id string) *Client {
	t.Helper()
	c := NewClient(id, nil, m, config.WebSocketConfig{SendBuffer: 256})
	m.Connect(c)
	return c
}

// joinAs connects id and joins it to room, discarding the join events.
func joinAs(t *testing.T, m *ChatManager, id, username, room string) *Client {
	t.Helper()
	c := connect(t, m, id)
	require.NoError(t, m.Dispatch(id, JoinIntent{Username: username, Room: room}))
	return c
}

type received struct {
	Type    string
	Payload json.RawMessage
}

func (r received) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Payload, v))
}

// drain returns every event already queued for c.
func drain(t *testing.T, c *Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var ev received
			require.NoError(t, json.Unmarshal(data, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []received) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// waitEvent blocks until c receives an event of type typ.
func waitEvent(t *testing.T, c *Client, typ string) received {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.Send:
			require.True(t, ok, "send channel closed while waiting for %s", typ)
			var ev received
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

type fakeConn struct {
	reads chan []byte

	mu         sync.Mutex
	written    [][]byte
	pings      int
	closed     bool
	closeSent  chan struct{}
	released   bool // set once the owner may hand the conn to someone else
	lateWrites int
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), closeSent: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		f.lateWrites++
	}
	switch mt {
	case websocket.TextMessage:
		f.written = append(f.written, append([]byte(nil), data...))
	case websocket.PingMessage:
		f.pings++
	case websocket.CloseMessage:
		if !f.closed {
			close(f.closeSent)
		}
		f.closed = true
	}
	return nil
}

func (f *fakeConn) SetReadLimit(int64) {}
func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) SetWriteDeadline(time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		f.lateWrites++
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		f.lateWrites++
	}
	return nil
}

func (f *fakeConn) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeConn) late() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lateWrites
}

func (f *fakeConn) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}
