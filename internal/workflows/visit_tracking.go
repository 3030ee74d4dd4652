package workflows

import (
	"errors"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

const (
	// TaskQueue is the queue the tracking worker polls.
	TaskQueue = "visit-tracking"

	// SignalVisitEnded carries a domain.VisitEvent when the visit completes or is cancelled.
	SignalVisitEnded = "visit-ended"

	defaultMaxDuration = 12 * time.Hour

	// hostScheduleTimeout bounds how long StopTracking waits for the session's
	// worker to poll; a worker that is gone took its sessions with it.
	hostScheduleTimeout = 2 * time.Minute
)

// End reasons reported in VisitTrackingResult.
const (
	EndSignalled   = "visit_ended"
	EndMaxDuration = "max_duration"
	EndCancelled   = "cancelled"
)

// VisitTrackingInput starts tracking for one visit.
type VisitTrackingInput struct {
	VisitID         string
	EmployeeID      string
	IntervalSeconds int
	MaxDuration     time.Duration
}

type VisitTrackingResult struct {
	VisitID   string
	EndReason string
	Final     domain.TrackingStatus
}

// WorkflowID derives a stable workflow ID so that a visit has at most one
// tracking workflow running.
func WorkflowID(visitID string) string {
	return "visit-tracking-" + visitID
}

// VisitTrackingWorkflow starts a tracking session for the visit, then waits
// for the visit-ended signal, cancellation or the max-duration timer, and
// always stops the session before returning.
func VisitTrackingWorkflow(ctx workflow.Context, in VisitTrackingInput) (VisitTrackingResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting visit tracking", "visitID", in.VisitID, "employeeID", in.EmployeeID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	res := VisitTrackingResult{VisitID: in.VisitID}

	var started TrackingStarted
	if err := workflow.ExecuteActivity(ctx, "StartTracking", in).Get(ctx, &started); err != nil {
		return res, err
	}

	maxDuration := in.MaxDuration
	if maxDuration <= 0 {
		maxDuration = defaultMaxDuration
	}
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, maxDuration)

	sel := workflow.NewSelector(ctx)
	sel.AddReceive(workflow.GetSignalChannel(ctx, SignalVisitEnded), func(c workflow.ReceiveChannel, more bool) {
		var ev domain.VisitEvent
		c.Receive(ctx, &ev)
		logger.Info("Visit ended", "visitID", in.VisitID, "status", ev.Status)
		res.EndReason = EndSignalled
	})
	sel.AddFuture(timer, func(f workflow.Future) {
		if err := f.Get(timerCtx, nil); err != nil {
			res.EndReason = EndCancelled
			return
		}
		logger.Warn("Visit exceeded max duration", "visitID", in.VisitID, "maxDuration", maxDuration)
		res.EndReason = EndMaxDuration
	})
	sel.Select(ctx)
	cancelTimer()

	// stop even when the workflow itself was cancelled
	stopCtx, _ := workflow.NewDisconnectedContext(ctx)
	if started.TaskQueue != "" {
		opts := workflow.GetActivityOptions(stopCtx)
		opts.TaskQueue = started.TaskQueue
		opts.ScheduleToStartTimeout = hostScheduleTimeout
		stopCtx = workflow.WithActivityOptions(stopCtx, opts)
	}
	err := workflow.ExecuteActivity(stopCtx, "StopTracking", in.VisitID).Get(stopCtx, &res.Final)
	var timeoutErr *temporal.TimeoutError
	switch {
	case errors.As(err, &timeoutErr) && timeoutErr.TimeoutType() == enumspb.TIMEOUT_TYPE_SCHEDULE_TO_START:
		logger.Warn("Tracking worker gone, session already ended", "visitID", in.VisitID, "taskQueue", started.TaskQueue)
		res.Final = domain.TrackingStatus{VisitID: in.VisitID, State: domain.TrackingStopped}
	case err != nil:
		logger.Error("Stop tracking failed", "visitID", in.VisitID, "error", err)
		return res, err
	}

	logger.Info("Visit tracking finished", "visitID", in.VisitID, "reason", res.EndReason,
		"captures", res.Final.Captures, "failures", res.Final.Failures)
	if res.EndReason == EndCancelled {
		return res, ctx.Err()
	}
	return res, nil
}
