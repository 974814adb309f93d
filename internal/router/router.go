package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lifelog/lifelog/internal/config"
	"github.com/lifelog/lifelog/internal/engine"
	"github.com/lifelog/lifelog/internal/handlers"
	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/metrics"
	"github.com/lifelog/lifelog/internal/middleware"
)

// Deps are the components the routes serve
type Deps struct {
	Engine  *engine.Engine
	Sweeper handlers.Sweeper
	Metrics *metrics.Metrics
	Version string
}

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, deps Deps, cfg config.Config) *handlers.Handler {
	h := handlers.New(logger, deps.Engine, handlers.Options{
		Sweeper: deps.Sweeper,
		Version: deps.Version,
		Backend: cfg.Store.Backend,
	})

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Health and metrics (no auth required)
	app.Get("/health", h.Health)
	promHandler := adaptor.HTTPHandler(metrics.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		deps.Metrics.ObserveCalendar(deps.Engine.Calendar())
		return promHandler(c)
	})

	authMiddleware := middleware.APIKeyAuth(logger, cfg.Auth.APIKeys, cfg.Auth.Enabled)

	// API v1 routes (protected by API key)
	v1 := app.Group("/v1", authMiddleware)

	// Series Management Routes
	v1.Post("/series", h.CreateSeries)
	v1.Get("/series", h.ListSeries)
	v1.Get("/series/:id", h.GetSeries)
	v1.Patch("/series/:id", h.UpdateSeries)
	v1.Delete("/series/:id", h.DeleteSeries)
	v1.Get("/series/:id/dependencies", h.Dependencies)

	// Datapoint Routes
	v1.Post("/series/:id/datapoints", h.InsertDatapoint)
	v1.Post("/series/:id/datapoints/batch", h.InsertBatch)
	v1.Get("/series/:id/datapoints", h.Query)
	v1.Get("/datapoints/:id", h.GetDatapoint)
	v1.Patch("/datapoints/:id", h.UpdateDatapoint)
	v1.Delete("/datapoints/:id", h.DeleteDatapoint)

	// Recording Routes
	v1.Post("/series/:id/record", h.Record)
	v1.Post("/series/:id/record/start", h.RecordStart)
	v1.Post("/series/:id/record/stop", h.RecordStop)

	v1.Post("/formula/check", h.CheckFormula)

	// Admin Routes (protected by API key)
	admin := app.Group("/admin", authMiddleware)
	admin.Post("/zerofill", h.TriggerZerofill)
	admin.Post("/series/:id/recompute", h.Recompute)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, deps Deps, cfg config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lifelog",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, deps, cfg)

	return app
}
