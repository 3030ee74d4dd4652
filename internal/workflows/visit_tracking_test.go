package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

type VisitTrackingSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
	act *TrackingActivities
}

func (s *VisitTrackingSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.act = &TrackingActivities{}
	s.env.RegisterActivity(s.act)
}

func (s *VisitTrackingSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestVisitTrackingSuite(t *testing.T) {
	suite.Run(t, new(VisitTrackingSuite))
}

var input = VisitTrackingInput{VisitID: "visit-1", EmployeeID: "emp-1", IntervalSeconds: 30, MaxDuration: time.Hour}

func (s *VisitTrackingSuite) TestEndsOnSignal() {
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).Return(TrackingStarted{Status: domain.TrackingStatus{VisitID: "visit-1"}}, nil).Once()
	s.env.OnActivity(s.act.StopTracking, mock.Anything, "visit-1").
		Return(domain.TrackingStatus{VisitID: "visit-1", State: domain.TrackingStopped, Captures: 7}, nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalVisitEnded, domain.VisitEvent{VisitID: "visit-1", Status: domain.VisitCompleted})
	}, 10*time.Minute)

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var res VisitTrackingResult
	s.NoError(s.env.GetWorkflowResult(&res))
	s.Equal(EndSignalled, res.EndReason)
	s.Equal(7, res.Final.Captures)
}

func (s *VisitTrackingSuite) TestEndsOnMaxDuration() {
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).Return(TrackingStarted{}, nil).Once()
	s.env.OnActivity(s.act.StopTracking, mock.Anything, "visit-1").Return(domain.TrackingStatus{State: domain.TrackingStopped}, nil).Once()

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	var res VisitTrackingResult
	s.NoError(s.env.GetWorkflowResult(&res))
	s.Equal(EndMaxDuration, res.EndReason)
}

func (s *VisitTrackingSuite) TestCancellationStillStops() {
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).Return(TrackingStarted{}, nil).Once()
	s.env.OnActivity(s.act.StopTracking, mock.Anything, "visit-1").Return(domain.TrackingStatus{State: domain.TrackingStopped}, nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.CancelWorkflow()
	}, 5*time.Minute)

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *VisitTrackingSuite) TestStartFailureSkipsStop() {
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).Return(TrackingStarted{}, errors.New("tracker closed"))

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *VisitTrackingSuite) TestStopRunsOnSessionHostQueue() {
	host := HostTaskQueue(TaskQueue, "worker-b")
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).Return(TrackingStarted{TaskQueue: host}, nil).Once()
	s.env.OnActivity(s.act.StopTracking, mock.Anything, "visit-1").Return(domain.TrackingStatus{State: domain.TrackingStopped, Captures: 2}, nil).Once()

	queues := map[string]string{}
	s.env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, _ converter.EncodedValues) {
		queues[info.ActivityType.Name] = info.TaskQueue
	})
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(SignalVisitEnded, domain.VisitEvent{VisitID: "visit-1", Status: domain.VisitCompleted})
	}, time.Minute)

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.Equal(host, queues["StopTracking"])
	s.NotEqual(host, queues["StartTracking"])
}

func (s *VisitTrackingSuite) TestStopWithHostGoneEndsCleanly() {
	s.env.OnActivity(s.act.StartTracking, mock.Anything, input).
		Return(TrackingStarted{TaskQueue: HostTaskQueue(TaskQueue, "worker-gone")}, nil).Once()
	s.env.OnActivity(s.act.StopTracking, mock.Anything, "visit-1").
		Return(domain.TrackingStatus{}, temporal.NewTimeoutError(enumspb.TIMEOUT_TYPE_SCHEDULE_TO_START, nil)).Once()

	s.env.ExecuteWorkflow(VisitTrackingWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var res VisitTrackingResult
	s.NoError(s.env.GetWorkflowResult(&res))
	s.Equal(domain.TrackingStopped, res.Final.State)
	s.Equal(EndMaxDuration, res.EndReason)
}

// fakeTracker drives TrackingActivities without goroutines.
type fakeTracker struct {
	startErr error
	stopErr  error
}

func (f *fakeTracker) Start(context.Context, string, string, time.Duration) (*usecases.TrackingSession, error) {
	return nil, f.startErr
}

func (f *fakeTracker) Stop(visitID string) (domain.TrackingStatus, error) {
	if f.stopErr != nil {
		return domain.TrackingStatus{}, f.stopErr
	}
	return domain.TrackingStatus{VisitID: visitID, State: domain.TrackingStopped, Captures: 3}, nil
}

func TestActivities_ConflictIsNotRetryable(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(&TrackingActivities{Tracker: &fakeTracker{startErr: usecases.ErrVisitTracked}})

	_, err := env.ExecuteActivity("StartTracking", input)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid_tracking_request")
}

func TestActivities_StopIsIdempotent(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(&TrackingActivities{Tracker: &fakeTracker{stopErr: usecases.ErrNotTracking}})

	val, err := env.ExecuteActivity("StopTracking", "visit-9")
	require.NoError(t, err)
	var st domain.TrackingStatus
	require.NoError(t, val.Get(&st))
	require.Equal(t, domain.TrackingStopped, st.State)
	require.Equal(t, "visit-9", st.VisitID)
}

func TestActivities_WithRealTracker(t *testing.T) {
	tr := usecases.NewTracker(func(string) ports.PositionProvider { return nil }, nil, nil, usecases.TrackerConfig{})
	defer tr.Close()

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(&TrackingActivities{Tracker: tr, HostTaskQueue: HostTaskQueue(TaskQueue, "worker-a")})

	val, err := env.ExecuteActivity("StartTracking", input)
	require.NoError(t, err)
	var started TrackingStarted
	require.NoError(t, val.Get(&started))
	require.Equal(t, domain.TrackingRunning, started.Status.State)
	require.Equal(t, "visit-tracking@worker-a", started.TaskQueue)

	var st domain.TrackingStatus
	val, err = env.ExecuteActivity("StopTracking", "visit-1")
	require.NoError(t, err)
	require.NoError(t, val.Get(&st))
	require.Equal(t, domain.TrackingStopped, st.State)
}

// --- dispatcher ---

type fakeRun struct{ client.WorkflowRun }

func (fakeRun) GetRunID() string { return "run-1" }

type fakeWorkflowClient struct {
	started   []client.StartWorkflowOptions
	inputs    []VisitTrackingInput
	signals   []string
	signalErr error
}

func (f *fakeWorkflowClient) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.started = append(f.started, opts)
	f.inputs = append(f.inputs, args[0].(VisitTrackingInput))
	return fakeRun{}, nil
}

func (f *fakeWorkflowClient) SignalWorkflow(_ context.Context, workflowID, _ string, signalName string, _ interface{}) error {
	f.signals = append(f.signals, workflowID+"/"+signalName)
	return f.signalErr
}

func TestDispatcher(t *testing.T) {
	fc := &fakeWorkflowClient{}
	d := NewVisitEventDispatcher(fc, "", 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, &domain.VisitEvent{VisitID: "v1", EmployeeID: "e1", Status: domain.VisitStarted, IntervalSeconds: 20}))
	require.Len(t, fc.started, 1)
	require.Equal(t, "visit-tracking-v1", fc.started[0].ID)
	require.Equal(t, TaskQueue, fc.started[0].TaskQueue)
	require.Equal(t, 20, fc.inputs[0].IntervalSeconds)
	require.Equal(t, 2*time.Hour, fc.inputs[0].MaxDuration)

	require.NoError(t, d.Handle(ctx, &domain.VisitEvent{VisitID: "v1", EmployeeID: "e1", Status: domain.VisitCompleted}))
	require.Equal(t, []string{"visit-tracking-v1/" + SignalVisitEnded}, fc.signals)

	fc.signalErr = serviceerror.NewNotFound("workflow not found")
	require.NoError(t, d.Handle(ctx, &domain.VisitEvent{VisitID: "v2", EmployeeID: "e1", Status: domain.VisitCancelled}))

	fc.signalErr = errors.New("frontend unavailable")
	require.Error(t, d.Handle(ctx, &domain.VisitEvent{VisitID: "v3", EmployeeID: "e1", Status: domain.VisitCompleted}))

	require.Error(t, d.Handle(ctx, &domain.VisitEvent{Status: domain.VisitStarted}))
}
