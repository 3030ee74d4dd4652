package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control on GET responses the handler left alone.
// Positions go stale within seconds, so most location data is private and short-lived.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/metrics" || path == "/v1/tracking" || strings.HasSuffix(path, "/tracking"):
			ttl = "no-cache"

		case strings.HasPrefix(path, "/v1/geocode/"):
			ttl = "public, max-age=86400" // places do not move

		case strings.HasPrefix(path, "/v1/employees/"):
			ttl = "private, max-age=5"

		case strings.HasPrefix(path, "/v1/visits/"):
			ttl = "private, max-age=30"

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "private, no-cache"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}
		return err
	}
}
