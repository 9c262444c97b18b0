package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/models"
)

// Connect dials the NATS server described by cfg.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS async error")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes JSON to <prefix>.modem.<uuid>.metrics and
// <prefix>.modem.<uuid>.events.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection. The
// connection stays owned by the caller.
func NewNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "hilink"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// MetricsSubject returns the subject samples of a modem are published on.
func (p *NATSPublisher) MetricsSubject(modemUUID string) string {
	return fmt.Sprintf("%s.modem.%s.metrics", p.prefix, modemUUID)
}

// EventsSubject returns the subject events of a modem are published on.
func (p *NATSPublisher) EventsSubject(modemUUID string) string {
	return fmt.Sprintf("%s.modem.%s.events", p.prefix, modemUUID)
}

// PublishSample implements Publisher
func (p *NATSPublisher) PublishSample(ctx context.Context, sample *models.MetricSample) error {
	return p.publish(p.MetricsSubject(sample.ModemUUID), sample)
}

// PublishEvent implements Publisher
func (p *NATSPublisher) PublishEvent(ctx context.Context, event *models.EventLog) error {
	return p.publish(p.EventsSubject(event.ModemUUID), event)
}

func (p *NATSPublisher) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close implements Publisher
func (p *NATSPublisher) Close() error { return nil }
