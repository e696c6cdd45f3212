package handlers

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
	"github.com/pelusa-v/pelusa-broker/internal/config"
)

type Handlers struct {
	manager *chat.ChatManager
	ws      config.WebSocketConfig
}

func New(manager *chat.ChatManager, ws config.WebSocketConfig) *Handlers {
	return &Handlers{manager: manager, ws: ws}
}

// WebSocketHandler GET /ws
// Blocks until both pumps are done; fiber releases the conn on return.
func (h *Handlers) WebSocketHandler(c *websocket.Conn) {
	client := chat.NewClient(uuid.NewString(), c, h.manager, h.ws)
	h.manager.Register(client)
	client.Serve()
}

// RoomsHandler GET /api/rooms
func (h *Handlers) RoomsHandler(c *fiber.Ctx) error {
	return c.JSON(h.manager.ListRooms())
}

// ShowClientsHandler GET /api/clients?room=
func (h *Handlers) ShowClientsHandler(c *fiber.Ctx) error {
	users, err := h.manager.ListClients(c.Query("room"))
	if errors.Is(err, chat.ErrUnknownRoom) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(users)
}

// InboxHandler GET /api/inbox/:username
func (h *Handlers) InboxHandler(c *fiber.Ctx) error {
	username := c.Params("username")
	if username == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing username")
	}
	return c.JSON(h.manager.Inbox(username))
}

// HealthHandler GET /health
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "ok",
		"connections": h.manager.ConnectionCount(),
	})
}
