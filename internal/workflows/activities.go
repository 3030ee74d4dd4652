package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

// SessionTracker is the part of usecases.Tracker the activities drive.
type SessionTracker interface {
	Start(ctx context.Context, employeeID, visitID string, interval time.Duration) (*usecases.TrackingSession, error)
	Stop(visitID string) (domain.TrackingStatus, error)
}

// TrackingActivities run tracking sessions inside the worker process.
// Sessions live in memory, so HostTaskQueue names the queue only this
// process polls; the session is stopped there.
type TrackingActivities struct {
	Tracker       SessionTracker
	HostTaskQueue string
}

// TrackingStarted is the StartTracking result.
type TrackingStarted struct {
	Status    domain.TrackingStatus
	TaskQueue string
}

// HostTaskQueue derives the queue polled only by the worker with the given identity.
func HostTaskQueue(taskQueue, identity string) string {
	return taskQueue + "@" + identity
}

// StartTracking begins capture for the visit and reports the task queue
// of the worker that now holds the session. Conflicts with another
// employee are not retried.
func (a *TrackingActivities) StartTracking(ctx context.Context, in VisitTrackingInput) (TrackingStarted, error) {
	interval := time.Duration(in.IntervalSeconds) * time.Second
	s, err := a.Tracker.Start(ctx, in.EmployeeID, in.VisitID, interval)
	switch {
	case errors.Is(err, usecases.ErrVisitTracked),
		errors.Is(err, usecases.ErrEmployeeRequired),
		errors.Is(err, usecases.ErrVisitRequired):
		return TrackingStarted{}, temporal.NewNonRetryableApplicationError(err.Error(), "invalid_tracking_request", err)
	case err != nil:
		return TrackingStarted{}, fmt.Errorf("start tracking %s: %w", in.VisitID, err)
	}
	activity.GetLogger(ctx).Info("Tracking session running", "visitID", in.VisitID, "hostTaskQueue", a.HostTaskQueue)
	return TrackingStarted{Status: s.Status(), TaskQueue: a.HostTaskQueue}, nil
}

// StopTracking ends capture for the visit. Stopping a visit that is not
// tracked succeeds with an empty stopped status.
func (a *TrackingActivities) StopTracking(ctx context.Context, visitID string) (domain.TrackingStatus, error) {
	st, err := a.Tracker.Stop(visitID)
	if errors.Is(err, usecases.ErrNotTracking) {
		activity.GetLogger(ctx).Info("Visit was not tracked", "visitID", visitID)
		return domain.TrackingStatus{VisitID: visitID, State: domain.TrackingStopped}, nil
	}
	if err != nil {
		return domain.TrackingStatus{}, fmt.Errorf("stop tracking %s: %w", visitID, err)
	}
	return st, nil
}
