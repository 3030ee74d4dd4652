package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

var (
	// ErrInvalidTransition is returned by Transition for moves the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid resolution state transition")
	// ErrSuperseded is returned to a Resolve caller whose attempt was overtaken by a newer one.
	ErrSuperseded = errors.New("resolution superseded by a newer request")
)

// EventKind enumerates the inputs of the resolution state machine.
type EventKind int

const (
	EventStart EventKind = iota
	EventDeviceResolved
	EventIPResolved
	EventFailed
	EventClearError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventDeviceResolved:
		return "device_resolved"
	case EventIPResolved:
		return "ip_resolved"
	case EventFailed:
		return "failed"
	case EventClearError:
		return "clear_error"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event carries the outcome of one step of the fallback chain.
type Event struct {
	Kind      EventKind
	Sample    *domain.LocationSample
	Err       *domain.LocationError
	DeviceErr *domain.LocationError
	Advisory  string
	Place     *domain.Place
}

// Transition is the pure state function of the resolver:
//
//	idle | resolved | error | loading --start--> loading
//	loading --device_resolved | ip_resolved--> resolved
//	loading --failed--> error
//	any --clear_error--> same status, error text removed
//
// Every other combination returns ErrInvalidTransition and the unchanged state.
func Transition(s domain.ResolutionState, ev Event) (domain.ResolutionState, error) {
	switch ev.Kind {
	case EventStart:
		return domain.ResolutionState{Status: domain.StatusLoading}, nil

	case EventClearError:
		s.ErrorMessage = ""
		return s, nil

	case EventDeviceResolved, EventIPResolved:
		if s.Status != domain.StatusLoading {
			return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind, s.Status)
		}
		if ev.Sample == nil {
			return s, fmt.Errorf("%w: %s without a sample", ErrInvalidTransition, ev.Kind)
		}
		sample := *ev.Sample
		next := domain.ResolutionState{
			Status: domain.StatusResolved,
			Sample: &sample,
			Source: sample.Source,
			Place:  ev.Place,
		}
		if ev.Kind == EventIPResolved {
			next.Advisory = ev.Advisory
			if next.Advisory == "" {
				next.Advisory = domain.AdvisoryApproximate
			}
			next.DeviceError = ev.DeviceErr
		}
		return next, nil

	case EventFailed:
		if s.Status != domain.StatusLoading {
			return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind, s.Status)
		}
		le := ev.Err
		if le == nil {
			le = domain.NewLocationError(domain.CodeUnavailable, "resolution failed")
		}
		next := domain.ResolutionState{
			Status:       domain.StatusError,
			ErrorMessage: le.Message,
			Error:        le,
			DeviceError:  ev.DeviceErr,
		}
		if ev.Sample != nil {
			sample := *ev.Sample
			next.Sample = &sample
			next.Source = sample.Source
			next.Advisory = ev.Advisory
		}
		return next, nil
	}
	return s, fmt.Errorf("%w: unknown event %s", ErrInvalidTransition, ev.Kind)
}

// ResolverOptions configures a LocationResolver.
type ResolverOptions struct {
	Position       domain.PositionOptions
	IPFallback     bool
	ReverseGeocode bool
}

// Attempt overrides the configured providers for a single Resolve call.
// Zero fields fall back to the resolver's defaults.
type Attempt struct {
	Device  ports.PositionProvider
	IP      ports.IPLocationProvider
	Options *domain.PositionOptions
}

// LocationResolver runs the device → IP fallback chain and owns the
// resulting ResolutionState. At most one attempt is logically in flight:
// a newer Resolve cancels the older one and the older result is discarded.
type LocationResolver struct {
	device   ports.PositionProvider
	ip       ports.IPLocationProvider
	geocoder ports.ReverseGeocoder
	opts     ResolverOptions

	mu     sync.Mutex
	state  domain.ResolutionState
	gen    uint64
	cancel context.CancelFunc
}

// NewLocationResolver creates a resolver in the idle state. Any provider may be nil.
func NewLocationResolver(
	device ports.PositionProvider,
	ip ports.IPLocationProvider,
	geocoder ports.ReverseGeocoder,
	opts ResolverOptions,
) *LocationResolver {
	return &LocationResolver{
		device:   device,
		ip:       ip,
		geocoder: geocoder,
		opts:     opts,
		state:    domain.ResolutionState{Status: domain.StatusIdle},
	}
}

// State returns the current resolution state.
func (r *LocationResolver) State() domain.ResolutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ClearError drops the error text while keeping the state machine position.
func (r *LocationResolver) ClearError() domain.ResolutionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state, _ = Transition(r.state, Event{Kind: EventClearError})
	return r.state
}

// Resolve runs the chain with the configured providers.
func (r *LocationResolver) Resolve(ctx context.Context) (domain.ResolutionState, error) {
	return r.ResolveAttempt(ctx, Attempt{})
}

// ResolveAttempt runs the chain, committing the outcome only if no newer
// attempt started meanwhile. A superseded caller gets the newest state and ErrSuperseded.
func (r *LocationResolver) ResolveAttempt(ctx context.Context, a Attempt) (domain.ResolutionState, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanResolve)
	defer span.End()

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	gen := r.gen
	r.cancel = cancel
	r.state, _ = Transition(r.state, Event{Kind: EventStart})
	r.mu.Unlock()

	ev := r.run(attemptCtx, a)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		metrics.ResolutionsSuperseded.Inc()
		span.SetAttributes(attribute.Bool("location.superseded", true))
		return r.state, ErrSuperseded
	}
	r.cancel = nil

	next, err := Transition(r.state, ev)
	if err != nil {
		return r.state, err
	}
	r.state = next

	metrics.Resolutions.WithLabelValues(string(next.Status), string(next.Source)).Inc()
	metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String(telemetry.AttrStatus, string(next.Status)),
		attribute.String(telemetry.AttrSource, string(next.Source)),
	)
	if next.Sample != nil {
		span.SetAttributes(attribute.String(telemetry.AttrConfidence, string(next.Sample.Confidence)))
	}
	return next, nil
}

func (r *LocationResolver) run(ctx context.Context, a Attempt) Event {
	device := a.Device
	if device == nil {
		device = r.device
	}
	ip := a.IP
	if ip == nil {
		ip = r.ip
	}
	opts := r.opts.Position
	if a.Options != nil {
		opts = *a.Options
	}

	var devErr *domain.LocationError
	if device == nil {
		devErr = domain.NewLocationError(domain.CodeUnsupported, "no positioning device available")
	} else {
		sample, err := device.RequestOnce(ctx, opts)
		if err == nil {
			if verr := sample.Validate(); verr != nil {
				err = domain.NewLocationError(domain.CodeUnavailable, verr.Error())
			}
		}
		if err == nil {
			sample.Source = domain.SourceGPS
			sample = sample.Classified()
			return Event{Kind: EventDeviceResolved, Sample: &sample, Place: r.enrich(ctx, sample)}
		}
		devErr = domain.AsLocationError(err)
	}

	if !r.opts.IPFallback || ip == nil || ctx.Err() != nil {
		return Event{Kind: EventFailed, Err: devErr}
	}

	slog.Debug("device position failed, trying ip lookup", "code", devErr.Code)
	sample, err := ip.Resolve(ctx)
	if err == nil {
		sample.Source = domain.SourceIP
		sample = sample.Classified()
		return Event{
			Kind:      EventIPResolved,
			Sample:    &sample,
			DeviceErr: devErr,
			Advisory:  domain.AdvisoryApproximate,
			Place:     r.enrich(ctx, sample),
		}
	}

	ev := Event{
		Kind:      EventFailed,
		Err:       domain.NewLocationError(domain.CodeProviderExhausted, fmt.Sprintf("device: %s; ip lookup: %v", devErr.Message, err)),
		DeviceErr: devErr,
	}
	if sample.Fallback && domain.ValidCoordinate(sample.Latitude, sample.Longitude) {
		sample.Source = domain.SourceIP
		sample = sample.Classified()
		ev.Sample = &sample
		ev.Advisory = domain.AdvisoryLastResort
	}
	return ev
}

// enrich looks up a place name unless the attempt is already stale.
func (r *LocationResolver) enrich(ctx context.Context, s domain.LocationSample) *domain.Place {
	if !r.opts.ReverseGeocode || r.geocoder == nil || s.Fallback || ctx.Err() != nil {
		return nil
	}
	return r.geocoder.Lookup(ctx, s.Latitude, s.Longitude)
}
