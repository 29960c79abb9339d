package storagemode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/prefsd/internal/logfields"
)

// Sink accepts raw hardware events; Machine implements it.
type Sink interface {
	DeliverRaw(ctx context.Context, kind string, data []byte) error
}

// NATSSource subscribes to <prefix>.<kind> subjects and forwards each message to a Sink.
// A single wildcard subscription keeps events in publish order.
type NATSSource struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	sink   Sink
	ctx    context.Context
}

// NewNATSSource connects to url.
func NewNATSSource(url, prefix string, sink Sink, opts ...nats.Option) (*NATSSource, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("subject prefix is required")
	}
	opts = append([]nats.Option{nats.Name("prefsd-storage-mode"), nats.Timeout(5 * time.Second)}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATS hardware event source connected", slog.String("url", url), slog.String("prefix", prefix))
	return &NATSSource{conn: conn, prefix: strings.TrimSuffix(prefix, "."), sink: sink, ctx: context.Background()}, nil
}

// Subject returns the wildcard subject the source listens on.
func (s *NATSSource) Subject() string {
	return s.prefix + ".>"
}

// Start subscribes; ctx bounds the delivery of every message.
func (s *NATSSource) Start(ctx context.Context) error {
	s.ctx = ctx
	sub, err := s.conn.Subscribe(s.Subject(), s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.Subject(), err)
	}
	s.sub = sub
	return nil
}

func (s *NATSSource) handle(msg *nats.Msg) {
	kind := kindFromSubject(s.prefix, msg.Subject)
	if err := s.sink.DeliverRaw(s.ctx, kind, msg.Data); err != nil {
		slog.Warn("Hardware event rejected", logfields.Event(kind), logfields.Error(err))
	}
}

// Stop drains the subscription and closes the connection.
func (s *NATSSource) Stop() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Warn("NATS unsubscribe failed", logfields.Error(err))
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func kindFromSubject(prefix, subject string) string {
	return strings.TrimPrefix(subject, prefix+".")
}
