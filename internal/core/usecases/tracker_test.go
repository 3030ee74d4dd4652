package usecases_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

func fastTrackerConfig() usecases.TrackerConfig {
	return usecases.TrackerConfig{
		DefaultInterval: 10 * time.Millisecond,
		MinInterval:     5 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		CaptureTimeout:  100 * time.Millisecond,
	}
}

func newTestTracker(device ports.PositionProvider, repo *memRepo, pub *mockPublisher) *usecases.Tracker {
	svc := usecases.NewBreadcrumbService(repo, nil)
	providers := func(string) ports.PositionProvider { return device }
	if pub == nil {
		return usecases.NewTracker(providers, svc, nil, fastTrackerConfig())
	}
	return usecases.NewTracker(providers, svc, pub, fastTrackerConfig())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTracker_CapturesUntilStopped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	repo := &memRepo{}
	pub := &mockPublisher{}
	tr := newTestTracker(fixedDevice(45.5, -73.5, 5), repo, pub)
	defer tr.Close()

	sess, err := tr.Start(context.Background(), "emp-1", "visit-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return repo.count() >= 3 })

	st, err := tr.Stop("visit-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != domain.TrackingStopped || st.StoppedAt == nil {
		t.Errorf("expected stopped status, got %+v", st)
	}
	select {
	case <-sess.Done():
	default:
		t.Fatal("session must be finished after Stop returns")
	}

	n := repo.count()
	time.Sleep(30 * time.Millisecond)
	if repo.count() != n {
		t.Errorf("captures continued after stop: %d -> %d", n, repo.count())
	}

	rows, _ := repo.Select(context.Background(), ports.BreadcrumbFilter{VisitID: "visit-1"})
	for _, b := range rows {
		if b.Source != domain.SourceGPS || b.EmployeeID != "emp-1" {
			t.Fatalf("unexpected breadcrumb %+v", b)
		}
	}
	if pub.statusCount() < 2 {
		t.Errorf("expected started and stopped statuses, got %d", pub.statusCount())
	}
	if _, ok := tr.Status("visit-1"); ok {
		t.Error("stopped visit must not be listed")
	}
	if _, err := tr.Stop("visit-1"); !errors.Is(err, usecases.ErrNotTracking) {
		t.Errorf("expected ErrNotTracking, got %v", err)
	}
}

func TestTracker_StartIsIdempotentPerVisit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := newTestTracker(fixedDevice(1, 1, 5), &memRepo{}, nil)
	defer tr.Close()

	a, err := tr.Start(context.Background(), "emp-1", "visit-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Start(context.Background(), "emp-1", "visit-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected the running session to be returned")
	}
	if len(tr.Active()) != 1 {
		t.Errorf("expected one active session, got %d", len(tr.Active()))
	}

	if _, err := tr.Start(context.Background(), "emp-2", "visit-1", 0); !errors.Is(err, usecases.ErrVisitTracked) {
		t.Errorf("expected ErrVisitTracked, got %v", err)
	}
}

func TestTracker_FailuresKeepSessionAlive(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	device := &mockDevice{requestFn: func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
		if calls.Add(1)%2 == 1 {
			return domain.LocationSample{}, domain.ErrTimeout
		}
		return domain.LocationSample{Latitude: 1, Longitude: 1}, nil
	}}
	repo := &memRepo{}
	tr := newTestTracker(device, repo, nil)
	defer tr.Close()

	if _, err := tr.Start(context.Background(), "emp-1", "visit-1", 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		st, _ := tr.Status("visit-1")
		return st.Failures >= 2 && st.Captures >= 2
	})
	st, _ := tr.Status("visit-1")
	if st.State != domain.TrackingRunning {
		t.Errorf("session must keep running after failed captures, got %s", st.State)
	}
}

func TestTracker_InvalidCoordinatesAreNotStored(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	repo := &memRepo{}
	tr := newTestTracker(fixedDevice(123, 456, 5), repo, nil)
	defer tr.Close()

	if _, err := tr.Start(context.Background(), "emp-1", "visit-1", 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		st, _ := tr.Status("visit-1")
		return st.Failures >= 2
	})
	if repo.count() != 0 {
		t.Errorf("invalid fixes must be dropped, got %d rows", repo.count())
	}
}

func TestTracker_CloseStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := newTestTracker(fixedDevice(1, 1, 5), &memRepo{}, nil)
	for _, v := range []string{"visit-a", "visit-b", "visit-c"} {
		if _, err := tr.Start(context.Background(), "emp-"+v, v, 0); err != nil {
			t.Fatal(err)
		}
	}
	tr.Close()

	if len(tr.Active()) != 0 {
		t.Errorf("expected no active sessions, got %d", len(tr.Active()))
	}
	if _, err := tr.Start(context.Background(), "emp-1", "visit-d", 0); !errors.Is(err, usecases.ErrTrackerClosed) {
		t.Errorf("expected ErrTrackerClosed, got %v", err)
	}
}

func TestTracker_StopAllKeepsTrackerOpen(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := newTestTracker(fixedDevice(1, 1, 5), &memRepo{}, nil)
	defer tr.Close()

	_, _ = tr.Start(context.Background(), "emp-1", "visit-b", 0)
	_, _ = tr.Start(context.Background(), "emp-2", "visit-a", 0)

	stopped := tr.StopAll()
	if len(stopped) != 2 || stopped[0].VisitID != "visit-a" {
		t.Fatalf("unexpected statuses %+v", stopped)
	}
	for _, st := range stopped {
		if st.State != domain.TrackingStopped {
			t.Errorf("%s still running", st.VisitID)
		}
	}
	if _, err := tr.Start(context.Background(), "emp-1", "visit-c", 0); err != nil {
		t.Errorf("tracker must accept sessions after StopAll: %v", err)
	}
}

func TestTracker_ClampInterval(t *testing.T) {
	tr := usecases.NewTracker(nil, nil, nil, usecases.TrackerConfig{
		DefaultInterval: 30 * time.Second,
		MinInterval:     15 * time.Second,
		MaxInterval:     60 * time.Second,
	})
	defer tr.Close()

	cases := map[time.Duration]time.Duration{
		0:                30 * time.Second,
		time.Second:      15 * time.Second,
		20 * time.Second: 20 * time.Second,
		5 * time.Minute:  60 * time.Second,
	}
	for in, want := range cases {
		if got := tr.ClampInterval(in); got != want {
			t.Errorf("ClampInterval(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestTracker_RequiresIdentifiers(t *testing.T) {
	tr := newTestTracker(fixedDevice(1, 1, 5), &memRepo{}, nil)
	defer tr.Close()

	if _, err := tr.Start(context.Background(), "", "visit-1", 0); !errors.Is(err, usecases.ErrEmployeeRequired) {
		t.Errorf("expected ErrEmployeeRequired, got %v", err)
	}
	if _, err := tr.Start(context.Background(), "emp-1", "", 0); !errors.Is(err, usecases.ErrVisitRequired) {
		t.Errorf("expected ErrVisitRequired, got %v", err)
	}
}

func TestTracker_RepeatedFixIsStoredOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var fixAt atomic.Int64
	fixAt.Store(time.Date(2026, 1, 10, 7, 0, 0, 0, time.UTC).UnixNano())
	var calls atomic.Int32
	device := &mockDevice{requestFn: func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
		calls.Add(1)
		return domain.LocationSample{
			Latitude: 45.5, Longitude: -73.5, Accuracy: f64(5),
			CapturedAt: time.Unix(0, fixAt.Load()).UTC(),
		}, nil
	}}
	repo := &memRepo{}
	tr := newTestTracker(device, repo, nil)
	defer tr.Close()

	if _, err := tr.Start(context.Background(), "emp-1", "visit-1", 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() >= 5 })
	if repo.count() != 1 {
		t.Fatalf("the same fix must be stored once, got %d rows", repo.count())
	}

	fixAt.Add(int64(time.Second))
	waitFor(t, func() bool { return repo.count() == 2 })

	st, _ := tr.Status("visit-1")
	if st.Captures != 2 || st.Failures != 0 {
		t.Errorf("expected 2 captures and no failures, got %+v", st)
	}
}

func TestTracker_RestartWaitsForStoppingSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	entered := make(chan struct{})
	cancelled := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	device := &mockDevice{requestFn: func(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			close(cancelled)
			<-release
			return domain.LocationSample{}, ctx.Err()
		}
		return domain.LocationSample{Latitude: 1, Longitude: 1}, nil
	}}
	cfg := fastTrackerConfig()
	cfg.CaptureTimeout = 5 * time.Second
	tr := usecases.NewTracker(func(string) ports.PositionProvider { return device },
		usecases.NewBreadcrumbService(&memRepo{}, nil), nil, cfg)
	defer tr.Close()

	first, err := tr.Start(context.Background(), "emp-1", "visit-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		_, _ = tr.Stop("visit-1")
		close(stopped)
	}()
	<-cancelled

	type result struct {
		sess *usecases.TrackingSession
		err  error
	}
	restarted := make(chan result, 1)
	go func() {
		s, err := tr.Start(context.Background(), "emp-1", "visit-1", 0)
		restarted <- result{s, err}
	}()

	select {
	case r := <-restarted:
		t.Fatalf("Start returned before the old session exited: same=%v err=%v", r.sess == first, r.err)
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	r := <-restarted
	<-stopped
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.sess == first {
		t.Fatal("expected a fresh session")
	}
	if st := r.sess.Status(); st.State != domain.TrackingRunning {
		t.Errorf("new session must be running, got %s", st.State)
	}
}
