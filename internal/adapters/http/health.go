package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
)

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).String(),
			"version": "dev",
		}
		if deps.Tracker != nil {
			body["tracking_sessions"] = len(deps.Tracker.Active())
		}
		return c.JSON(body)
	}
}

// ReadyHandler checks the breadcrumb store, NATS, and cache connectivity.
// Only the store is required; NATS and the cache degrade gracefully.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allOK := true

		backend := deps.StoreBackend
		if backend == "" {
			backend = "store"
		}
		if deps.Store != nil {
			if err := deps.Store.Ping(ctx); err != nil {
				checks[backend] = "error: " + err.Error()
				allOK = false
			} else {
				checks[backend] = "ok"
			}
		} else {
			checks[backend] = "not configured"
			allOK = false
		}
		if deps.DB != nil {
			metrics.UpdateDBPoolMetrics(deps.DB.Stat())
		}

		if deps.NATS != nil {
			if deps.NATS.IsConnected() {
				checks["nats"] = "ok"
			} else {
				checks["nats"] = "disconnected"
			}
		} else {
			checks["nats"] = "not configured"
		}

		if deps.Cache != nil {
			if err := deps.Cache.Ping(ctx); err != nil {
				checks["cache"] = "error: " + err.Error()
			} else {
				checks["cache"] = "ok"
			}
		} else {
			checks["cache"] = "not configured"
		}

		status := "ready"
		code := 200
		if !allOK {
			status = "not ready"
			code = 503
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
