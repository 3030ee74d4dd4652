package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber.
type Subscriber struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	durable string
	subs    []*nats.Subscription
}

// NewSubscriber connects to NATS. durablePrefix names the JetStream
// consumers so several replicas share one work queue.
func NewSubscriber(url, durablePrefix string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js, durable: durablePrefix}, nil
}

// SubscribeDeviceFixes listens on core NATS. Fixes are only useful while
// fresh, so nothing is redelivered.
func (s *Subscriber) SubscribeDeviceFixes(ctx context.Context, handler func(ctx context.Context, fix *domain.DeviceFix) error) error {
	sub, err := s.conn.Subscribe(Wildcard(SubjectDevice), func(msg *nats.Msg) {
		var fix domain.DeviceFix
		if err := json.Unmarshal(msg.Data, &fix); err != nil {
			slog.Warn("drop malformed device fix", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, &fix); err != nil {
			slog.Warn("device fix handler", "employee_id", fix.EmployeeID, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeVisitEvents consumes the visit work queue with a durable consumer.
func (s *Subscriber) SubscribeVisitEvents(ctx context.Context, handler func(ctx context.Context, event *domain.VisitEvent) error) error {
	sub, err := s.js.Subscribe(Wildcard(SubjectVisit), func(msg *nats.Msg) {
		var event domain.VisitEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			// poison message, retrying cannot help
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &event); err != nil {
			slog.Warn("visit event handler", "visit_id", event.VisitID, "status", event.Status, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(s.durable+"-visits"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
