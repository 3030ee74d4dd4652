package ports

import (
	"context"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// PositionProvider performs one device positioning attempt per call.
type PositionProvider interface {
	RequestOnce(ctx context.Context, opts domain.PositionOptions) (domain.LocationSample, error)
}

// IPLocationProvider resolves an approximate position from network address lookups.
// On exhaustion it returns an error matching domain.ErrProviderExhausted and,
// when configured, a last-resort sample tagged Fallback.
type IPLocationProvider interface {
	Resolve(ctx context.Context) (domain.LocationSample, error)
}

// ReverseGeocoder turns a coordinate into a place. Failures yield nil.
type ReverseGeocoder interface {
	Lookup(ctx context.Context, lat, lon float64) *domain.Place
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishBreadcrumb(ctx context.Context, b *domain.Breadcrumb) error
	PublishDeviceFix(ctx context.Context, fix *domain.DeviceFix) error
	PublishTrackingStatus(ctx context.Context, status *domain.TrackingStatus) error
	PublishVisitEvent(ctx context.Context, event *domain.VisitEvent) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeDeviceFixes(ctx context.Context, handler func(ctx context.Context, fix *domain.DeviceFix) error) error
	SubscribeVisitEvents(ctx context.Context, handler func(ctx context.Context, event *domain.VisitEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
