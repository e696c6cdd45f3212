package handlers

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/pelusa-broker/internal/log"
)

// NewApp builds the fiber app with every route registered. staticDir is
// served at / when set.
func NewApp(h *Handlers, logger zerolog.Logger, staticDir string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "pelusa-broker",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestLogger(logger))
	app.Use(cors.New())

	app.Get("/health", h.HealthHandler)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.WebSocketHandler))

	api := app.Group("/api")
	api.Get("/rooms", h.RoomsHandler)
	api.Get("/clients", h.ShowClientsHandler) // ?room=
	api.Get("/inbox/:username", h.InboxHandler)

	if staticDir != "" {
		app.Static("/", staticDir)
	}
	return app
}

// requestLogger scopes a logger to the request through its user context
// and logs each request once it completes.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqLogger := logger.With().
			Str(log.FieldMethod, c.Method()).
			Str(log.FieldPath, c.Path()).
			Logger()
		c.SetUserContext(log.WithLogger(c.UserContext(), reqLogger))

		err := c.Next()
		if err != nil {
			// run the error handler now so the logged status is the final one
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		reqLogger.Info().
			Int(log.FieldStatus, c.Response().StatusCode()).
			Dur(log.FieldLatency, time.Since(start)).
			Str(log.FieldClientIP, c.IP()).
			Msg("http request")
		return nil
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	logger := log.Ctx(c.UserContext())
	if code >= fiber.StatusInternalServerError {
		logger.Error().Err(err).Int(log.FieldStatus, code).Msg("http error")
	} else {
		logger.Debug().Err(err).Int(log.FieldStatus, code).Msg("http error")
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}
