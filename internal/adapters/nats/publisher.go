package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// Publisher implements ports.EventPublisher. Breadcrumbs and visit events
// go through JetStream; device fixes and tracking status are ephemeral and
// use core NATS.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the streams exist.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      streamBreadcrumbs,
			Subjects:  []string{Wildcard(SubjectBreadcrumb)},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      streamVisits,
			Subjects:  []string{Wildcard(SubjectVisit)},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    72 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// already there, bring its config up to date
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

func (p *Publisher) PublishBreadcrumb(ctx context.Context, b *domain.Breadcrumb) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(SubjectBreadcrumb, b.EmployeeID), data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishVisitEvent(ctx context.Context, e *domain.VisitEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(SubjectVisit, e.VisitID), data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishDeviceFix(ctx context.Context, fix *domain.DeviceFix) error {
	data, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(SubjectDevice, fix.EmployeeID), data)
}

func (p *Publisher) PublishTrackingStatus(ctx context.Context, st *domain.TrackingStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(SubjectTracking, st.VisitID), data)
}

// Conn exposes the underlying connection for readiness checks.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection, e.g. for the WebSocket relay.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("fieldtrack"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
