package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
	"github.com/pelusa-v/pelusa-broker/internal/config"
	"github.com/pelusa-v/pelusa-broker/internal/log"
)

func newTestApp(t *testing.T) (*fiber.App, *chat.ChatManager) {
	t.Helper()
	return newLoggedTestApp(t, zerolog.Nop())
}

// newLoggedTestApp is newTestApp with the HTTP layer logging to logger.
func newLoggedTestApp(t *testing.T, logger zerolog.Logger) (*fiber.App, *chat.ChatManager) {
	t.Helper()
	cfg := config.Default()
	cfg.Broker.Rooms = []string{"general", "random"}

	manager := chat.NewManager(cfg.Broker, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)
	t.Cleanup(cancel)

	return NewApp(New(manager, cfg.WebSocket), logger, ""), manager
}

func getJSON(t *testing.T, app *fiber.App, path string, wantStatus int, v any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, json.Unmarshal(body, v))
	}
}

func TestRESTEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	var rooms []chat.RoomInfo
	getJSON(t, app, "/api/rooms", fiber.StatusOK, &rooms)
	assert.Equal(t, []chat.RoomInfo{{Name: "general"}, {Name: "random"}}, rooms)

	var users []chat.User
	getJSON(t, app, "/api/clients", fiber.StatusOK, &users)
	assert.Empty(t, users)

	var errBody map[string]any
	getJSON(t, app, "/api/clients?room=lounge", fiber.StatusNotFound, &errBody)
	assert.Contains(t, errBody["error"], "room does not exist")

	var health map[string]any
	getJSON(t, app, "/health", fiber.StatusOK, &health)
	assert.Equal(t, "ok", health["status"])

	var inbox []chat.ThreadPreview
	getJSON(t, app, "/api/inbox/alice", fiber.StatusOK, &inbox)
	assert.Empty(t, inbox)

	getJSON(t, app, "/ws", fiber.StatusUpgradeRequired, nil)
}

// listen serves app on a loopback port and returns its address.
func listen(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestErrorsLogWithRequestFields(t *testing.T) {
	var buf bytes.Buffer
	app, _ := newLoggedTestApp(t, log.NewWithWriter(log.Config{Level: "debug"}, &buf))

	getJSON(t, app, "/api/clients?room=lounge", fiber.StatusNotFound, nil)

	var errEntry, reqEntry map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		switch entry["message"] {
		case "http error":
			errEntry = entry
		case "http request":
			reqEntry = entry
		}
	}
	require.NotNil(t, errEntry)
	require.NotNil(t, reqEntry)
	assert.Equal(t, "GET", errEntry[log.FieldMethod])
	assert.Equal(t, "/api/clients", errEntry[log.FieldPath])
	assert.EqualValues(t, fiber.StatusNotFound, errEntry[log.FieldStatus])
	assert.EqualValues(t, fiber.StatusNotFound, reqEntry[log.FieldStatus])
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, addr string) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(intent chat.Intent) {
	c.t.Helper()
	data, err := chat.EncodeIntent(intent)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// await reads frames until one of type typ arrives.
func (c *wsClient) await(typ string) chat.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var env chat.Envelope
		require.NoError(c.t, json.Unmarshal(data, &env))
		if env.Type == typ {
			return env
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	app, manager := newTestApp(t)
	addr := listen(t, app)

	alice := dial(t, addr)
	alice.send(chat.JoinIntent{Username: "alice", Room: "general"})
	alice.await(chat.EventRoomSnapshot)

	bob := dial(t, addr)
	bob.send(chat.JoinIntent{Username: "bob", Room: "general"})
	bob.await(chat.EventRoomSnapshot)
	alice.await(chat.EventUserJoined)

	alice.send(chat.SendMessageIntent{Text: "hello bob"})
	env := bob.await(chat.EventMessageReceived)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "hello bob", msg.Text)
	assert.Equal(t, "alice", msg.Username)

	bob.send(chat.ReactToMessageIntent{MessageID: msg.ID, Reaction: "👍"})
	env = alice.await(chat.EventReactionsUpdated)
	var reactions chat.ReactionsPayload
	require.NoError(t, json.Unmarshal(env.Payload, &reactions))
	assert.Equal(t, chat.Reactions{"👍": {"bob"}}, reactions.Reactions)

	bob.send(chat.SendPrivateMessageIntent{ToUsername: "alice", Text: "psst"})
	env = alice.await(chat.EventPrivateMessageNotification)
	var note chat.PrivateNotificationPayload
	require.NoError(t, json.Unmarshal(env.Payload, &note))
	assert.Equal(t, "bob", note.From)

	require.NoError(t, bob.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	env = bob.await(chat.EventRejected)
	var rej chat.RejectedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &rej))
	assert.Equal(t, chat.CodeBadRequest, rej.Code)

	require.NoError(t, bob.conn.Close())
	alice.await(chat.EventUserLeft)
	require.Eventually(t, func() bool { return manager.ConnectionCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	users, err := manager.ListClients("general")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}

func TestWebSocketConnectionChurn(t *testing.T) {
	app, manager := newTestApp(t)
	addr := listen(t, app)

	join := func(i int) error {
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		data, err := chat.EncodeIntent(chat.JoinIntent{Username: fmt.Sprintf("user%d", i), Room: "general"})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return err
		}
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			var env chat.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				return err
			}
			if env.Type == chat.EventRoomSnapshot {
				return nil
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, join(i), "client %d", i)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return manager.ConnectionCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	// the server still serves new connections after the churn
	c := dial(t, addr)
	c.send(chat.JoinIntent{Username: "late", Room: "general"})
	c.await(chat.EventRoomSnapshot)
}
