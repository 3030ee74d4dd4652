// Package geocoder reverse-geocodes coordinates into human-readable places.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

type Options struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	HTTPClient    *http.Client
}

// Nominatim queries an OpenStreetMap Nominatim /reverse endpoint.
type Nominatim struct {
	base      string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
}

func NewNominatim(opts Options) *Nominatim {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "fieldtrack/1.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Nominatim{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
	}
}

type reverseResponse struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Hamlet  string `json:"hamlet"`
		Suburb  string `json:"suburb"`
		County  string `json:"county"`
		Region  string `json:"region"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Lookup returns nil on any failure, including rate-limit waits that would
// outlast the lookup timeout.
func (n *Nominatim) Lookup(ctx context.Context, lat, lon float64) *domain.Place {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanReverseGeocode)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	place, err := n.lookup(ctx, lat, lon)
	if err != nil {
		slog.DebugContext(ctx, "reverse geocode failed", "latitude", lat, "longitude", lon, "error", err)
		metrics.GeocodeLookups.WithLabelValues("failed").Inc()
		span.SetAttributes(attribute.String(telemetry.AttrStatus, "failed"))
		return nil
	}
	metrics.GeocodeLookups.WithLabelValues("ok").Inc()
	return place
}

func (n *Nominatim) lookup(ctx context.Context, lat, lon float64) (*domain.Place, error) {
	if !domain.ValidCoordinate(lat, lon) {
		return nil, domain.InvalidCoordinate(lat, lon)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var r reverseResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<10)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("nominatim: %s", r.Error)
	}
	return toPlace(r)
}

func toPlace(r reverseResponse) (*domain.Place, error) {
	a := r.Address
	p := &domain.Place{
		City:        firstNonEmpty(a.City, a.Town, a.Village, a.Hamlet),
		Suburb:      a.Suburb,
		County:      a.County,
		Region:      firstNonEmpty(a.State, a.Region),
		Country:     a.Country,
		DisplayName: r.DisplayName,
	}
	p.Name = firstNonEmpty(p.City, p.Suburb, a.County, a.Region, a.State, p.Country, firstSegment(r.DisplayName))
	if p.Name == "" {
		return nil, fmt.Errorf("no usable name in response")
	}
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstSegment(display string) string {
	seg, _, _ := strings.Cut(display, ",")
	return strings.TrimSpace(seg)
}
