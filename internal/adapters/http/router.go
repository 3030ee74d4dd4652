package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
)

const (
	requestTimeout = 15 * time.Second
	// resolveTimeout covers a device wait plus the whole IP chain.
	resolveTimeout = 45 * time.Second
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Devices push a fix every few seconds, so the limit is per client and generous.
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	// Location resolution
	v1.Post("/location/resolve", timeout.NewWithContext(ResolveLocationHandler(deps), resolveTimeout))
	v1.Get("/location/state", LocationStateHandler(deps))
	v1.Delete("/location/error", ClearLocationErrorHandler(deps))
	v1.Get("/geocode/reverse", timeout.NewWithContext(ReverseGeocodeHandler(deps), requestTimeout))

	// Device fixes and breadcrumbs
	v1.Post("/devices/:employee_id/fixes", DeviceFixHandler(deps))
	v1.Get("/employees/locations/latest", timeout.NewWithContext(LatestLocationsHandler(deps), requestTimeout))
	v1.Post("/employees/:employee_id/breadcrumbs", timeout.NewWithContext(AppendBreadcrumbHandler(deps), requestTimeout))
	v1.Get("/employees/:employee_id/breadcrumbs", timeout.NewWithContext(EmployeeBreadcrumbsHandler(deps), requestTimeout))
	v1.Get("/visits/:visit_id/breadcrumbs", timeout.NewWithContext(VisitBreadcrumbsHandler(deps), requestTimeout))
	v1.Get("/visits/:visit_id/path", timeout.NewWithContext(VisitPathHandler(deps), requestTimeout))

	// Tracking sessions
	v1.Post("/visits/:visit_id/tracking", StartTrackingHandler(deps))
	v1.Get("/visits/:visit_id/tracking", TrackingStatusHandler(deps))
	v1.Delete("/visits/:visit_id/tracking", StopTrackingHandler(deps))
	v1.Get("/tracking", ActiveTrackingHandler(deps))
	v1.Post("/visits/:visit_id/events", VisitEventHandler(deps))

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
