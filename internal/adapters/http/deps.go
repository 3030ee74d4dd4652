package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fieldtrack/internal/adapters/device"
	"github.com/samirrijal/fieldtrack/internal/adapters/iplocation"
	"github.com/samirrijal/fieldtrack/internal/adapters/postgres"
	"github.com/samirrijal/fieldtrack/internal/adapters/valkey"
	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
)

// Pinger is implemented by the breadcrumb backends for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
// Nil infrastructure fields are reported as "not configured" by /v1/ready.
type Dependencies struct {
	Resolvers   *usecases.ResolverSessions
	IPLocation  *iplocation.Provider
	Geocoder    ports.ReverseGeocoder
	Devices     *device.Hub
	Breadcrumbs *usecases.BreadcrumbService
	Aggregator  *usecases.ActiveLocationAggregator
	Reporter    *usecases.ErrorReporter
	Tracker     *usecases.Tracker
	Publisher   ports.EventPublisher

	// Position is the default for resolve requests that send no options.
	Position   domain.PositionOptions
	StaleAfter time.Duration

	NATS         *nats.Conn
	DB           *postgres.DB
	Store        Pinger
	StoreBackend string
	Cache        *valkey.Cache
}
