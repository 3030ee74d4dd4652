package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

var (
	ErrVisitTracked   = errors.New("visit is already tracked for another employee")
	ErrTrackerClosed  = errors.New("tracker is closed")
	ErrNotTracking    = errors.New("visit is not being tracked")
	errNoDeviceSource = errors.New("no device source for employee")
)

// TrackerConfig bounds the capture cadence of tracking sessions.
type TrackerConfig struct {
	DefaultInterval time.Duration
	MinInterval     time.Duration
	MaxInterval     time.Duration
	CaptureTimeout  time.Duration
	Position        domain.PositionOptions
}

// ProviderFactory returns the device provider used to capture an employee's position.
type ProviderFactory func(employeeID string) ports.PositionProvider

// BreadcrumbAppender is the subset of BreadcrumbService used by tracking sessions.
type BreadcrumbAppender interface {
	Append(ctx context.Context, sample domain.LocationSample, employeeID, visitID string) (*domain.Breadcrumb, error)
}

// Tracker owns one TrackingSession per visit in progress.
type Tracker struct {
	providers ProviderFactory
	store     BreadcrumbAppender
	publisher ports.EventPublisher
	cfg       TrackerConfig

	root     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[string]*TrackingSession
}

// NewTracker creates a Tracker. publisher may be nil.
func NewTracker(providers ProviderFactory, store BreadcrumbAppender, publisher ports.EventPublisher, cfg TrackerConfig) *Tracker {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = cfg.MinInterval
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 10 * time.Second
	}
	root, cancel := context.WithCancel(context.Background())
	return &Tracker{
		providers: providers,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		root:      root,
		shutdown:  cancel,
		sessions:  make(map[string]*TrackingSession),
	}
}

// ClampInterval maps a requested interval into [MinInterval, MaxInterval].
// Zero selects DefaultInterval.
func (t *Tracker) ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		d = t.cfg.DefaultInterval
	}
	if d < t.cfg.MinInterval {
		return t.cfg.MinInterval
	}
	if d > t.cfg.MaxInterval {
		return t.cfg.MaxInterval
	}
	return d
}

// Start begins recurring capture for a visit. Starting an already tracked
// visit for the same employee returns the existing session. A session that
// is still shutting down is waited out and replaced.
func (t *Tracker) Start(ctx context.Context, employeeID, visitID string, interval time.Duration) (*TrackingSession, error) {
	if employeeID == "" {
		return nil, ErrEmployeeRequired
	}
	if visitID == "" {
		return nil, ErrVisitRequired
	}

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, ErrTrackerClosed
		}
		existing, ok := t.sessions[visitID]
		if !ok {
			break
		}
		t.mu.Unlock()

		if existing.ctx.Err() == nil {
			if existing.employeeID != employeeID {
				return nil, fmt.Errorf("%w: visit %s belongs to %s", ErrVisitTracked, visitID, existing.employeeID)
			}
			return existing, nil
		}
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sessCtx, cancel := context.WithCancel(t.root)
	s := &TrackingSession{
		tracker:    t,
		employeeID: employeeID,
		visitID:    visitID,
		interval:   t.ClampInterval(interval),
		provider:   t.providers(employeeID),
		ctx:        sessCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		startedAt:  time.Now().UTC(),
	}
	t.sessions[visitID] = s
	t.wg.Add(1)
	t.mu.Unlock()

	metrics.ActiveTrackingSessions.Inc()
	slog.InfoContext(ctx, "tracking started",
		"employee_id", employeeID, "visit_id", visitID, "interval", s.interval.String())
	t.publishStatus(ctx, s.Status())

	go s.run(sessCtx)
	return s, nil
}

// Stop ends tracking for a visit and waits for its session to release
// its timer. It returns ErrNotTracking for unknown visits.
func (t *Tracker) Stop(visitID string) (domain.TrackingStatus, error) {
	t.mu.Lock()
	s, ok := t.sessions[visitID]
	t.mu.Unlock()
	if !ok {
		return domain.TrackingStatus{}, ErrNotTracking
	}
	s.Stop()
	return s.Status(), nil
}

// Status returns a snapshot of a running session.
func (t *Tracker) Status(visitID string) (domain.TrackingStatus, bool) {
	t.mu.Lock()
	s, ok := t.sessions[visitID]
	t.mu.Unlock()
	if !ok {
		return domain.TrackingStatus{}, false
	}
	return s.Status(), true
}

// Active lists running sessions ordered by visit ID.
func (t *Tracker) Active() []domain.TrackingStatus {
	t.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	out := make([]domain.TrackingStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitID < out[j].VisitID })
	return out
}

// StopAll stops every running session and returns their final statuses.
// The tracker keeps accepting new sessions.
func (t *Tracker) StopAll() []domain.TrackingStatus {
	t.mu.Lock()
	sessions := make([]*TrackingSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	out := make([]domain.TrackingStatus, 0, len(sessions))
	for _, s := range sessions {
		s.Stop()
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitID < out[j].VisitID })
	return out
}

// Close stops every session, refuses new ones and waits for all of them to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.shutdown()
	t.wg.Wait()
}

func (t *Tracker) release(s *TrackingSession) {
	t.mu.Lock()
	if t.sessions[s.visitID] == s {
		delete(t.sessions, s.visitID)
	}
	t.mu.Unlock()

	metrics.ActiveTrackingSessions.Dec()
	st := s.Status()
	slog.Info("tracking stopped",
		"employee_id", st.EmployeeID, "visit_id", st.VisitID,
		"captures", st.Captures, "failures", st.Failures)
	t.publishStatus(context.Background(), st)
	t.wg.Done()
}

func (t *Tracker) publishStatus(ctx context.Context, st domain.TrackingStatus) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishTrackingStatus(ctx, &st); err != nil {
		slog.Debug("publish tracking status", "visit_id", st.VisitID, "error", err)
	}
}

// TrackingSession captures one employee's position on a fixed cadence until stopped.
type TrackingSession struct {
	tracker    *Tracker
	employeeID string
	visitID    string
	interval   time.Duration
	provider   ports.PositionProvider
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	startedAt  time.Time

	// newest stored fix time; only touched by the run goroutine
	lastFixAt time.Time

	mu          sync.Mutex
	stoppedAt   *time.Time
	lastCapture *time.Time
	captures    int
	failures    int
	lastErr     string
}

// Stop cancels the session and blocks until its loop has exited. Safe to call repeatedly.
func (s *TrackingSession) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the session has released its resources.
func (s *TrackingSession) Done() <-chan struct{} {
	return s.done
}

// Status returns a snapshot of the session.
func (s *TrackingSession) Status() domain.TrackingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.TrackingStatus{
		VisitID:         s.visitID,
		EmployeeID:      s.employeeID,
		State:           domain.TrackingRunning,
		IntervalSeconds: int(s.interval / time.Second),
		StartedAt:       s.startedAt,
		StoppedAt:       s.stoppedAt,
		LastCaptureAt:   s.lastCapture,
		Captures:        s.captures,
		Failures:        s.failures,
		LastError:       s.lastErr,
	}
	if s.stoppedAt != nil {
		st.State = domain.TrackingStopped
	}
	return st
}

func (s *TrackingSession) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		s.cancel()
		if r := recover(); r != nil {
			slog.Error("tracking session panicked", "visit_id", s.visitID, "panic", r)
		}
		now := time.Now().UTC()
		s.mu.Lock()
		s.stoppedAt = &now
		s.mu.Unlock()
		s.tracker.release(s)
		close(s.done)
	}()

	s.capture(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.capture(ctx)
		}
	}
}

func (s *TrackingSession) capture(ctx context.Context) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanCapture)
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttrEmployeeID, s.employeeID),
		attribute.String(telemetry.AttrVisitID, s.visitID),
	)

	if s.provider == nil {
		s.recordFailure("failed", errNoDeviceSource)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.tracker.cfg.CaptureTimeout)
	defer cancel()

	sample, err := s.provider.RequestOnce(cctx, s.tracker.cfg.Position)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordFailure("failed", err)
		slog.Warn("tracking capture failed", "visit_id", s.visitID, "employee_id", s.employeeID, "error", err)
		return
	}

	sample.Source = domain.SourceGPS
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = time.Now().UTC()
	}
	// a cached device fix is handed out again until it ages out
	if !s.lastFixAt.IsZero() && !sample.CapturedAt.After(s.lastFixAt) {
		metrics.TrackingCaptures.WithLabelValues("stale").Inc()
		slog.Debug("tracking fix unchanged, skipped", "visit_id", s.visitID, "captured_at", sample.CapturedAt)
		return
	}
	if _, err := s.tracker.store.Append(ctx, sample, s.employeeID, s.visitID); err != nil {
		if errors.Is(err, domain.ErrInvalidCoordinate) {
			s.recordFailure("invalid", err)
			slog.Error("device reported invalid coordinate", "visit_id", s.visitID,
				"employee_id", s.employeeID, "latitude", sample.Latitude, "longitude", sample.Longitude)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.recordFailure("failed", err)
		slog.Warn("tracking append failed", "visit_id", s.visitID, "error", err)
		return
	}

	s.lastFixAt = sample.CapturedAt
	now := time.Now().UTC()
	s.mu.Lock()
	s.captures++
	s.lastCapture = &now
	s.lastErr = ""
	s.mu.Unlock()
	metrics.TrackingCaptures.WithLabelValues("ok").Inc()
}

func (s *TrackingSession) recordFailure(result string, err error) {
	s.mu.Lock()
	s.failures++
	s.lastErr = err.Error()
	s.mu.Unlock()
	metrics.TrackingCaptures.WithLabelValues(result).Inc()
}
