// Package device adapts callback-style position sources to the one-shot
// PositionProvider port.
package device

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

// Fix is a position reported by a device. Accuracy is nil when the device
// did not report a radius.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Timestamp time.Time
}

// Device is a platform position source. Exactly one of success or failure
// is expected per call, but implementations may call late or never.
type Device interface {
	GetCurrentPosition(success func(Fix), failure func(code domain.ErrorCode, message string), opts domain.PositionOptions)
}

// Provider implements ports.PositionProvider on top of a Device.
type Provider struct {
	dev Device
}

// NewProvider wraps dev. A nil dev yields a provider that always fails
// with domain.ErrUnsupported.
func NewProvider(dev Device) *Provider {
	return &Provider{dev: dev}
}

type outcome struct {
	fix Fix
	err *domain.LocationError
}

// RequestOnce asks the device for a single fix. opts.Timeout bounds the wait;
// callbacks arriving after it are dropped.
func (p *Provider) RequestOnce(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanDeviceAttempt)
	defer span.End()

	if p == nil || p.dev == nil {
		metrics.ProviderAttempts.WithLabelValues("device", "unsupported").Inc()
		return domain.LocationSample{}, domain.NewLocationError(domain.CodeUnsupported, "no position device available")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ch := make(chan outcome, 1)
	var once sync.Once
	deliver := func(o outcome) {
		once.Do(func() { ch <- o })
	}

	p.dev.GetCurrentPosition(
		func(f Fix) { deliver(outcome{fix: f}) },
		func(code domain.ErrorCode, msg string) { deliver(outcome{err: domain.NewLocationError(code, msg)}) },
		opts,
	)

	var o outcome
	select {
	case o = <-ch:
	case <-ctx.Done():
		deliver(outcome{})
		le := domain.AsLocationError(ctx.Err())
		if le.Code == domain.CodeTimeout {
			le.Message = "device did not report a position in time"
		}
		metrics.ProviderAttempts.WithLabelValues("device", string(le.Code)).Inc()
		return domain.LocationSample{}, le
	}

	if o.err != nil {
		span.SetAttributes(attribute.String(telemetry.AttrStatus, string(o.err.Code)))
		metrics.ProviderAttempts.WithLabelValues("device", string(o.err.Code)).Inc()
		return domain.LocationSample{}, o.err
	}

	if !domain.ValidCoordinate(o.fix.Latitude, o.fix.Longitude) || (o.fix.Accuracy != nil && *o.fix.Accuracy < 0) {
		metrics.ProviderAttempts.WithLabelValues("device", "invalid").Inc()
		return domain.LocationSample{}, domain.NewLocationError(domain.CodeUnavailable, "device reported an invalid position")
	}

	at := o.fix.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	var acc *float64
	if o.fix.Accuracy != nil {
		v := *o.fix.Accuracy
		acc = &v
	}
	sample := domain.LocationSample{
		Latitude:   o.fix.Latitude,
		Longitude:  o.fix.Longitude,
		Accuracy:   acc,
		Source:     domain.SourceGPS,
		CapturedAt: at.UTC(),
	}.Classified()

	span.SetAttributes(attribute.String(telemetry.AttrConfidence, string(sample.Confidence)))
	metrics.ProviderAttempts.WithLabelValues("device", "ok").Inc()
	return sample, nil
}
