package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	ws "github.com/songblend/api/internal/websocket"
)

// Routes bundles what Register mounts. Nil middleware is skipped; a nil Hub
// disables the websocket stream.
type Routes struct {
	Blend  *BlendHandler
	Songs  *SongHandler
	Health *HealthHandler
	Hub    *ws.Hub

	Auth          fiber.Handler
	GenerateLimit fiber.Handler
}

// Register mounts the API, health and websocket routes on app.
func Register(app *fiber.App, r Routes) {
	app.Get("/health", r.Health.Health)
	app.Get("/health/detailed", r.Health.Detailed)
	app.Get("/health/ready", r.Health.Ready)
	app.Get("/health/live", r.Health.Live)

	api := app.Group("/api", orNext(r.Auth))
	api.Post("/generate", orNext(r.GenerateLimit), r.Blend.Generate)
	api.Get("/status/:jobId", r.Blend.Status)
	api.Get("/jobs", r.Blend.Jobs)
	api.Delete("/jobs/:jobId", r.Blend.Cancel)
	api.Get("/download/:fileId", r.Blend.Download)
	api.Get("/search", r.Songs.Search)
	api.Get("/songs", r.Songs.List)

	if r.Hub == nil {
		return
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", func(c *fiber.Ctx) error {
		if _, err := uuid.Parse(c.Params("jobId")); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid job ID")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}))
}

func orNext(h fiber.Handler) fiber.Handler {
	if h != nil {
		return h
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}
