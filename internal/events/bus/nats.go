package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
)

// ErrPayloadTooLarge is returned when an encoded event exceeds the
// server's max payload. Large transcripts hit this before anything else.
var ErrPayloadTooLarge = errors.New("event exceeds NATS max payload")

const (
	natsReconnectWait   = 2 * time.Second
	natsReconnectBuffer = 5 * 1024 * 1024
)

// NATSEventBus mirrors bridge events onto a NATS server so tools outside
// the process can follow terminals. Subjects are prefixed with the
// configured namespace on the wire and unprefixed for callers.
type NATSEventBus struct {
	conn      *nats.Conn
	namespace string
	logger    *logger.Logger
}

// NewNATSEventBus connects to cfg.URL with reconnects enabled.
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	b := &NATSEventBus{
		namespace: strings.Trim(cfg.Namespace, "."),
		logger:    log.Component("event-bus").WithFields(zap.String("bus", "nats")),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.ReconnectBufSize(natsReconnectBuffer),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				b.logger.Warn("nats connection closed", zap.Error(err))
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = b.local(sub.Subject)
			}
			b.logger.Error("nats error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b.conn = conn
	b.logger.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()), zap.String("namespace", b.namespace))
	return b, nil
}

// wire maps a caller subject to the namespaced subject on the server.
func (b *NATSEventBus) wire(subject string) string {
	if b.namespace == "" {
		return subject
	}
	return b.namespace + "." + subject
}

// local strips the namespace from a server subject.
func (b *NATSEventBus) local(subject string) string {
	if b.namespace == "" {
		return subject
	}
	return strings.TrimPrefix(subject, b.namespace+".")
}

// Publish encodes event as JSON and publishes it on subject.
func (b *NATSEventBus) Publish(_ context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if limit := b.conn.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrPayloadTooLarge, subject, len(data), limit)
	}
	if err := b.conn.Publish(b.wire(subject), data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject. NATS delivers a subscription's
// messages in order on one goroutine.
func (b *NATSEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(b.wire(subject), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping undecodable event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := handler(context.Background(), &event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("subject", b.local(msg.Subject)),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains in-flight messages, then closes the connection.
func (b *NATSEventBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("nats drain failed", zap.Error(err))
		b.conn.Close()
	}
}

// IsConnected reports whether the connection is up.
func (b *NATSEventBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub != nil && s.sub.IsValid()
}
