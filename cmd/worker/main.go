package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/fieldtrack/internal/adapters/device"
	natsadapter "github.com/samirrijal/fieldtrack/internal/adapters/nats"
	"github.com/samirrijal/fieldtrack/internal/adapters/storage"
	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/usecases"
	"github.com/samirrijal/fieldtrack/internal/pkg/config"
	"github.com/samirrijal/fieldtrack/internal/pkg/logging"
	"github.com/samirrijal/fieldtrack/internal/pkg/telemetry"
	"github.com/samirrijal/fieldtrack/internal/workflows"
)

// The worker runs visit tracking workflows. Device fixes reach it over NATS
// from the API, and visit lifecycle events arrive on the JetStream work queue.
func main() {
	cfg, err := config.Load("fieldtrack-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.SetupFromEnv("fieldtrack-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	publisher, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer publisher.Close()

	subscriber, err := natsadapter.NewSubscriber(cfg.NATS.URL, "fieldtrack-worker")
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer subscriber.Close()

	// Tracking sessions read positions pushed by field devices.
	hub := device.NewHub()
	tracker := usecases.NewTracker(hub.Provider, usecases.NewBreadcrumbService(store.Repo, publisher), publisher, usecases.TrackerConfig{
		DefaultInterval: cfg.Tracking.DefaultInterval,
		MinInterval:     cfg.Tracking.MinInterval,
		MaxInterval:     cfg.Tracking.MaxInterval,
		CaptureTimeout:  cfg.Tracking.CaptureTimeout,
		Position: domain.PositionOptions{
			HighAccuracy: cfg.Location.HighAccuracy,
			Timeout:      cfg.Location.DeviceTimeout,
			MaximumAge:   cfg.Location.DeviceMaxAge,
		},
	})
	defer tracker.Close()

	if err := subscriber.SubscribeDeviceFixes(ctx, func(_ context.Context, fix *domain.DeviceFix) error {
		hub.Apply(*fix)
		return nil
	}); err != nil {
		log.Fatalf("subscribe device fixes: %v", err)
	}

	// Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	dispatcher := workflows.NewVisitEventDispatcher(c, cfg.Temporal.TaskQueue, cfg.Tracking.MaxVisitDuration)
	if err := subscriber.SubscribeVisitEvents(ctx, dispatcher.Handle); err != nil {
		log.Fatalf("subscribe visit events: %v", err)
	}

	// Sessions are in-process, so each worker also polls a queue of its own
	// where the workflow stops the sessions it started here.
	hostname, _ := os.Hostname()
	hostQueue := workflows.HostTaskQueue(cfg.Temporal.TaskQueue, hostname+"-"+uuid.NewString()[:8])
	activities := &workflows.TrackingActivities{Tracker: tracker, HostTaskQueue: hostQueue}

	hw := worker.New(c, hostQueue, worker.Options{})
	hw.RegisterActivity(activities)
	if err := hw.Start(); err != nil {
		log.Fatalf("host worker: %v", err)
	}
	defer hw.Stop()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.VisitTrackingWorkflow)
	w.RegisterActivity(activities)

	slog.Info("tracking worker started", "task_queue", cfg.Temporal.TaskQueue, "host_task_queue", hostQueue, "store", store.Backend)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
	slog.Info("tracking worker stopped", "sessions", len(tracker.StopAll()))
}
