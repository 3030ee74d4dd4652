package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// WorkflowClient is the subset of client.Client used by the dispatcher.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
}

// VisitEventDispatcher turns visit lifecycle events into workflow starts and signals.
type VisitEventDispatcher struct {
	client      WorkflowClient
	taskQueue   string
	maxDuration time.Duration
}

func NewVisitEventDispatcher(c WorkflowClient, taskQueue string, maxDuration time.Duration) *VisitEventDispatcher {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &VisitEventDispatcher{client: c, taskQueue: taskQueue, maxDuration: maxDuration}
}

// Handle is an EventSubscriber handler. Starting an already running visit
// attaches to the existing workflow; ending a visit with no workflow is a no-op.
func (d *VisitEventDispatcher) Handle(ctx context.Context, ev *domain.VisitEvent) error {
	if ev.VisitID == "" || ev.EmployeeID == "" {
		return fmt.Errorf("visit event missing ids: %+v", *ev)
	}

	switch ev.Status {
	case domain.VisitStarted:
		run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        WorkflowID(ev.VisitID),
			TaskQueue: d.taskQueue,
		}, VisitTrackingWorkflow, VisitTrackingInput{
			VisitID:         ev.VisitID,
			EmployeeID:      ev.EmployeeID,
			IntervalSeconds: ev.IntervalSeconds,
			MaxDuration:     d.maxDuration,
		})
		if err != nil {
			return fmt.Errorf("start tracking workflow for %s: %w", ev.VisitID, err)
		}
		slog.InfoContext(ctx, "visit tracking workflow started", "visit_id", ev.VisitID, "run_id", run.GetRunID())
		return nil

	case domain.VisitCompleted, domain.VisitCancelled:
		err := d.client.SignalWorkflow(ctx, WorkflowID(ev.VisitID), "", SignalVisitEnded, ev)
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			slog.InfoContext(ctx, "no tracking workflow for visit", "visit_id", ev.VisitID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("signal visit %s: %w", ev.VisitID, err)
		}
		return nil

	default:
		slog.WarnContext(ctx, "ignoring visit event", "visit_id", ev.VisitID, "status", ev.Status)
		return nil
	}
}
