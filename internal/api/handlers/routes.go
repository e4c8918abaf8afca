package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Set groups the handlers mounted by Register. Nil handlers are skipped.
type Set struct {
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
	Catalog   *CatalogHandler
	Engineer  *EngineerHandler
	Health    *HealthHandler
}

// Register mounts the REST routes under /api/v1 and the socket at /ws.
// chatMiddleware runs in front of POST /chat only.
func Register(app *fiber.App, s Set, chatMiddleware ...fiber.Handler) {
	api := app.Group("/api/v1")

	if s.Chat != nil {
		api.Post("/chat", append(chatMiddleware, s.Chat.HandleChat)...)
		api.Get("/chat/history", s.Chat.GetChatHistory)
	}

	if s.Catalog != nil {
		api.Get("/catalog", s.Catalog.GetCatalog)
		api.Post("/catalog/refresh", s.Catalog.RefreshCatalog)
		api.Post("/resolve", s.Catalog.Resolve)
	}

	if s.Engineer != nil {
		api.Get("/engineer/tasks", s.Engineer.ListTasks)
		api.Patch("/engineer/tasks/:id", s.Engineer.UpdateTask)
	}

	if s.Health != nil {
		api.Get("/health", s.Health.Health)
		api.Get("/ready", s.Health.Ready)
	}

	if s.WebSocket != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(s.WebSocket.HandleConnection))
	}
}
