package chat

import (
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/pelusa-v/pelusa-broker/internal/config"
	"github.com/pelusa-v/pelusa-broker/internal/log"
)

// ConnLike is the part of *websocket.Conn the pumps use.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Client struct {
	ID   string
	Conn ConnLike
	Send chan []byte

	manager *ChatManager
	cfg     config.WebSocketConfig

	stop chan struct{} // closed when ReadPump returns
	done chan struct{} // closed when WritePump returns
}

func NewClient(id string, conn ConnLike, manager *ChatManager, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 64
	}
	return &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, size),
		manager: manager,
		cfg:     cfg,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Serve runs both pumps and returns only after WritePump has exited, so
// Conn is not touched once Serve returns.
func (c *Client) Serve() {
	go c.WritePump()
	c.ReadPump()
	<-c.done
}

// ReadPump decodes frames into intents for the manager until the socket
// fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		close(c.stop)
		c.Conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.Conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.logger.Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read")
			}
			return
		}
		intent, err := ParseIntent(data)
		c.manager.Submit(c, intent, err)
	}
}

func (c *Client) extendReadDeadline() {
	if c.cfg.PongWait > 0 {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// WritePump drains Send to the socket and pings on PingInterval. It returns
// when Send is closed, a write fails or ReadPump has returned.
func (c *Client) WritePump() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		close(c.done)
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.setWriteDeadline()
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.setWriteDeadline()
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.stop:
			return
		}
	}
}

func (c *Client) setWriteDeadline() {
	if c.cfg.WriteWait > 0 {
		c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	}
}
