package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, invalid_coordinate, ...
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errUnprocessable is returned for coordinates outside WGS 84 bounds.
func errUnprocessable(c *fiber.Ctx, msg string) error {
	return newError(c, 422, string(domain.CodeInvalidCoordinate), msg)
}

func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, 500, "internal_error", msg)
}

func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, 503, "unavailable", msg)
}

// errFromService maps use case errors to responses. Anything unknown is a 500
// and gets logged with the request ID.
func errFromService(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinate):
		return errUnprocessable(c, err.Error())
	case errors.Is(err, usecases.ErrEmployeeRequired),
		errors.Is(err, usecases.ErrVisitRequired),
		errors.Is(err, usecases.ErrInvalidRange),
		errors.Is(err, usecases.ErrInvalidSource):
		return errBadRequest(c, err.Error())
	case errors.Is(err, usecases.ErrVisitTracked):
		return errConflict(c, err.Error())
	case errors.Is(err, usecases.ErrNotTracking):
		return errNotFound(c, err.Error())
	case errors.Is(err, usecases.ErrTrackerClosed):
		return errUnavailable(c, err.Error())
	}
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return errInternal(c, err.Error())
}
