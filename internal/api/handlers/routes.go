package handlers

import (
	"cfprogress/internal/metrics"
	"cfprogress/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

// AppConfig holds the HTTP settings of the API
type AppConfig struct {
	CORSOrigin string
	BodyLimit  int
}

// Router bundles every handler the API serves
type Router struct {
	Students    *StudentHandler
	Leaderboard *LeaderboardHandler
	Sync        *SyncHandler
	Hub         *websocket.Hub
	Metrics     *metrics.Manager
}

// NewApp creates the fiber app with the shared middleware stack
func NewApp(cfg AppConfig, log zerolog.Logger, m *metrics.Manager) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Student Progress System",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
		BodyLimit:             cfg.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger(log, m))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigin,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	return app
}

// Register mounts every route on app
func (r Router) Register(app *fiber.App) {
	api := app.Group("/api/v1")

	// Student routes; /export is registered before /:id so it is not taken for an id
	students := api.Group("/students")
	students.Post("/", r.Students.CreateStudent)
	students.Get("/", r.Students.GetStudents)
	students.Get("/export", r.Students.ExportStudents)
	students.Get("/:id", r.Students.GetStudent)
	students.Put("/:id", r.Students.UpdateStudent)
	students.Patch("/:id", r.Students.UpdateStudent)
	students.Delete("/:id", r.Students.DeleteStudent)
	students.Post("/:id/sync", r.Students.SyncStudent)
	students.Get("/:id/profile", r.Students.GetProfile)

	// Leaderboard routes
	api.Get("/leaderboard", r.Leaderboard.GetLeaderboard)
	api.Get("/leaderboard/:handle", r.Leaderboard.SearchHandle)
	api.Get("/health", r.Leaderboard.HealthCheck)

	// Batch sync
	api.Post("/sync", r.Sync.TriggerSync)
	api.Get("/sync/status", r.Sync.GetSyncStatus)

	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics.Handler()))
	}

	if r.Hub != nil {
		// WebSocket route with upgrade middleware
		app.Use("/ws", func(c *fiber.Ctx) error {
			if fiberws.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", fiberws.New(func(c *fiberws.Conn) {
			websocket.ServeWS(r.Hub, c)
		}))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		clients := 0
		if r.Hub != nil {
			clients = r.Hub.GetClientCount()
		}
		return c.JSON(fiber.Map{
			"message": "Student Progress System API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/students",
				"GET /api/v1/students",
				"GET /api/v1/students/export",
				"GET /api/v1/students/:id",
				"PUT /api/v1/students/:id",
				"DELETE /api/v1/students/:id",
				"POST /api/v1/students/:id/sync",
				"GET /api/v1/students/:id/profile?days=N",
				"GET /api/v1/leaderboard",
				"GET /api/v1/leaderboard/:handle",
				"POST /api/v1/sync",
				"GET /api/v1/sync/status",
				"GET /api/v1/health",
				"GET /metrics",
				"WS /ws (WebSocket)",
			},
			"websocket_clients": clients,
		})
	})
}
