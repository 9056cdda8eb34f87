// Package notify delivers committed domain events to NATS subscribers and the log.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/event-matchmaker/internal/application"
)

// Config holds NATS connection configuration.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Connect establishes a connection to the NATS server.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "event-matchmaker"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher publishes domain events as JSON on "<prefix>.<event type>".
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

var _ application.EventSink = (*Publisher)(nil)

// NewPublisher wraps conn. An empty prefix publishes on the bare event type.
func NewPublisher(conn Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.Named("notify"),
	}
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType application.DomainEventType) string {
	if p.prefix == "" {
		return string(eventType)
	}
	return p.prefix + "." + string(eventType)
}

// Publish implements application.EventSink.
func (p *Publisher) Publish(ctx context.Context, event application.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", event.Type, err)
	}
	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish failed", zap.String("subject", subject), zap.String("match_id", event.MatchID), zap.Error(err))
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.String("match_id", event.MatchID))
	return nil
}
