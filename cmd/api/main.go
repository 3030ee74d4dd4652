package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fieldtrack/internal/adapters/device"
	"github.com/samirrijal/fieldtrack/internal/adapters/geocoder"
	"github.com/samirrijal/fieldtrack/internal/adapters/http"
	"github.com/samirrijal/fieldtrack/internal/adapters/iplocation"
	natsadapter "github.com/samirrijal/fieldtrack/internal/adapters/nats"
	"github.com/samirrijal/fieldtrack/internal/adapters/storage"
	"github.com/samirrijal/fieldtrack/internal/adapters/valkey"
	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
	"github.com/samirrijal/fieldtrack/internal/pkg/config"
	"github.com/samirrijal/fieldtrack/internal/pkg/logging"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
)

// resolver sessions idle longer than this are evicted
const sessionTTL = 30 * time.Minute

func main() {
	cfg, err := config.Load("fieldtrack-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.SetupFromEnv("fieldtrack-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Breadcrumb store
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()
	slog.Info("breadcrumb store ready", "backend", store.Backend)

	// Cache
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
	}

	// NATS
	var (
		publisher ports.EventPublisher
		natsConn  *nats.Conn
	)
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, live updates disabled", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
		natsConn = pub.Conn()
	}

	// Providers
	var ipProvider *iplocation.Provider
	if cfg.Location.IPFallback {
		endpoints, err := iplocation.BuiltinEndpoints(cfg.Location.IP.Providers)
		if err != nil {
			log.Fatalf("ip location: %v", err)
		}
		ipProvider = iplocation.NewProvider(endpoints, iplocation.Options{
			Timeout:           cfg.Location.IP.Timeout,
			LastResortDefault: cfg.Location.IP.LastResortDefault,
			DefaultLatitude:   cfg.Location.IP.DefaultLatitude,
			DefaultLongitude:  cfg.Location.IP.DefaultLongitude,
		})
	}

	var geo ports.ReverseGeocoder
	if cfg.Location.ReverseGeocode {
		geo = geocoder.NewNominatim(geocoder.Options{
			BaseURL:       cfg.Geocoder.BaseURL,
			UserAgent:     cfg.Geocoder.UserAgent,
			Timeout:       cfg.Geocoder.Timeout,
			RatePerSecond: cfg.Geocoder.RatePerSecond,
		})
		if cache != nil {
			geo = geocoder.NewCached(geo, cache, cfg.Geocoder.CacheTTL, cfg.Geocoder.Timeout)
		}
	}

	position := domain.PositionOptions{
		HighAccuracy: cfg.Location.HighAccuracy,
		Timeout:      cfg.Location.DeviceTimeout,
		MaximumAge:   cfg.Location.DeviceMaxAge,
	}

	// Use cases
	hub := device.NewHub()
	breadcrumbs := usecases.NewBreadcrumbService(store.Repo, publisher)
	resolvers := usecases.NewResolverSessions(func() *usecases.LocationResolver {
		var ip ports.IPLocationProvider
		if ipProvider != nil {
			ip = ipProvider
		}
		return usecases.NewLocationResolver(nil, ip, geo, usecases.ResolverOptions{
			Position:       position,
			IPFallback:     cfg.Location.IPFallback,
			ReverseGeocode: cfg.Location.ReverseGeocode,
		})
	}, sessionTTL)
	tracker := usecases.NewTracker(hub.Provider, breadcrumbs, publisher, usecases.TrackerConfig{
		DefaultInterval: cfg.Tracking.DefaultInterval,
		MinInterval:     cfg.Tracking.MinInterval,
		MaxInterval:     cfg.Tracking.MaxInterval,
		CaptureTimeout:  cfg.Tracking.CaptureTimeout,
		Position:        position,
	})

	deps := &http.Dependencies{
		Resolvers:    resolvers,
		IPLocation:   ipProvider,
		Geocoder:     geo,
		Devices:      hub,
		Breadcrumbs:  breadcrumbs,
		Aggregator:   usecases.NewActiveLocationAggregator(store.Repo),
		Reporter:     usecases.NewErrorReporter(),
		Tracker:      tracker,
		Publisher:    publisher,
		Position:     position,
		NATS:         natsConn,
		DB:           store.DB,
		Store:        store,
		StoreBackend: store.Backend,
		Cache:        cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    256 * 1024,
		AppName:      "Fieldtrack API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, X-Session-ID, X-Request-ID",
		ExposeHeaders: "Link, X-Request-ID, X-API-Version",
		MaxAge:        3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// stop capture loops before the store closes
	tracker.Close()
	slog.Info("server stopped")
}
