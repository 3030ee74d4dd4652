// Package iplocation resolves a coarse position from the caller's network
// address by walking an ordered list of public IP geolocation services.
package iplocation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

const maxBody = 64 << 10

type Options struct {
	// Timeout bounds each endpoint attempt separately.
	Timeout           time.Duration
	LastResortDefault bool
	DefaultLatitude   float64
	DefaultLongitude  float64
	HTTPClient        *http.Client
}

// Provider implements ports.IPLocationProvider. The first endpoint that
// yields a valid coordinate wins.
type Provider struct {
	endpoints []Endpoint
	opts      Options
	client    *http.Client
	ip        string
}

func NewProvider(endpoints []Endpoint, opts Options) *Provider {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{endpoints: endpoints, opts: opts, client: client}
}

// ForIP returns a copy of the provider that looks up ip instead of the
// server's own address. Endpoints without an IPURL keep their plain URL.
func (p *Provider) ForIP(ip string) *Provider {
	cp := *p
	cp.ip = ip
	return &cp
}

// Resolve walks the endpoint list. When every endpoint fails it returns
// domain.ErrProviderExhausted and, if configured, the default coordinate
// marked as a fallback.
func (p *Provider) Resolve(ctx context.Context) (domain.LocationSample, error) {
	for _, ep := range p.endpoints {
		if ctx.Err() != nil {
			break
		}
		lat, lon, err := p.attempt(ctx, ep)
		if err != nil {
			slog.DebugContext(ctx, "ip location attempt failed", "provider", ep.Name, "error", err)
			continue
		}
		return domain.LocationSample{
			Latitude:   lat,
			Longitude:  lon,
			Source:     domain.SourceIP,
			Confidence: domain.ConfidenceLow,
			CapturedAt: time.Now().UTC(),
		}, nil
	}

	exhausted := domain.NewLocationError(domain.CodeProviderExhausted,
		fmt.Sprintf("%d ip location providers failed", len(p.endpoints)))
	if !p.opts.LastResortDefault {
		return domain.LocationSample{}, exhausted
	}
	return domain.LocationSample{
		Latitude:   p.opts.DefaultLatitude,
		Longitude:  p.opts.DefaultLongitude,
		Source:     domain.SourceIP,
		Confidence: domain.ConfidenceLow,
		CapturedAt: time.Now().UTC(),
		Fallback:   true,
	}, exhausted
}

func (p *Provider) attempt(ctx context.Context, ep Endpoint) (lat, lon float64, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanIPAttempt)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrProvider, ep.Name))

	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ProviderAttempts.WithLabelValues(ep.Name, result).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.urlFor(p.ip), nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("HTTP %d from %s", resp.StatusCode, ep.Name)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, 0, fmt.Errorf("read body: %w", err)
	}
	lat, lon, err = ep.Parse(body)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s response: %w", ep.Name, err)
	}
	if !domain.ValidCoordinate(lat, lon) {
		return 0, 0, domain.InvalidCoordinate(lat, lon)
	}
	return lat, lon, nil
}
