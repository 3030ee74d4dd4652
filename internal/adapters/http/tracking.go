package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

type startTrackingRequest struct {
	EmployeeID      string `json:"employee_id"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// StartTrackingHandler starts recurring capture for a visit in this process.
// Repeating the call for the same employee returns the running session.
func StartTrackingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tracker == nil {
			return errUnavailable(c, "tracking not configured")
		}
		var req startTrackingRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.IntervalSeconds < 0 {
			return errBadRequest(c, "interval_seconds must not be negative")
		}

		// sessions outlive the request, so ids are copied out of fiber's buffers
		visitID := strings.Clone(c.Params("visit_id"))
		session, err := deps.Tracker.Start(c.UserContext(), strings.Clone(req.EmployeeID), visitID,
			time.Duration(req.IntervalSeconds)*time.Second)
		if err != nil {
			return errFromService(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(session.Status())
	}
}

// StopTrackingHandler stops capture for a visit and returns its final status.
func StopTrackingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tracker == nil {
			return errUnavailable(c, "tracking not configured")
		}
		st, err := deps.Tracker.Stop(c.Params("visit_id"))
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(st)
	}
}

// TrackingStatusHandler returns one visit's session status.
func TrackingStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tracker == nil {
			return errUnavailable(c, "tracking not configured")
		}
		st, ok := deps.Tracker.Status(c.Params("visit_id"))
		if !ok {
			return errNotFound(c, "visit is not being tracked")
		}
		return c.JSON(st)
	}
}

// ActiveTrackingHandler lists running sessions.
func ActiveTrackingHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Tracker == nil {
			return errUnavailable(c, "tracking not configured")
		}
		active := deps.Tracker.Active()
		if active == nil {
			active = []domain.TrackingStatus{}
		}
		return c.JSON(fiber.Map{"data": active, "count": len(active)})
	}
}

type visitEventRequest struct {
	EmployeeID      string             `json:"employee_id"`
	Status          domain.VisitStatus `json:"status"`
	IntervalSeconds int                `json:"interval_seconds"`
}

// VisitEventHandler queues a visit lifecycle event for the tracking worker.
func VisitEventHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Publisher == nil {
			return errUnavailable(c, "event bus not configured")
		}
		var req visitEventRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		switch req.Status {
		case domain.VisitStarted:
			if req.EmployeeID == "" {
				return errBadRequest(c, "employee_id is required when a visit starts")
			}
		case domain.VisitCompleted, domain.VisitCancelled:
		default:
			return errBadRequest(c, "status must be started, completed or cancelled")
		}
		if req.IntervalSeconds < 0 {
			return errBadRequest(c, "interval_seconds must not be negative")
		}

		ev := domain.VisitEvent{
			VisitID:         c.Params("visit_id"),
			EmployeeID:      req.EmployeeID,
			Status:          req.Status,
			IntervalSeconds: req.IntervalSeconds,
			OccurredAt:      time.Now().UTC(),
		}
		if err := deps.Publisher.PublishVisitEvent(c.UserContext(), &ev); err != nil {
			LoggerFromCtx(c.UserContext()).Error("publish visit event", "visit_id", ev.VisitID, "error", err)
			return errUnavailable(c, "could not queue visit event")
		}
		return c.Status(fiber.StatusAccepted).JSON(ev)
	}
}
