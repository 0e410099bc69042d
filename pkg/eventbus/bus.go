package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const defaultStreamName = "SETTLEMENT"

// streamSubjects are retained for a week so operators can replay settlement history
var streamSubjects = []string{"rides.>", "payments.>", "escrow.>"}

// Config holds the JetStream connection settings
type Config struct {
	URL        string
	Name       string
	StreamName string
	// MaxDeliver bounds redeliveries of a failing event
	MaxDeliver int
	AckWait    time.Duration
}

// DefaultConfig points at a local NATS server
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		Name:       "escrow-settlement",
		StreamName: defaultStreamName,
		MaxDeliver: 5,
		AckWait:    30 * time.Second,
	}
}

// ConfigFrom builds the bus config from the service config
func ConfigFrom(cfg config.NATSConfig, clientName string) Config {
	c := DefaultConfig()
	c.Name = clientName
	if cfg.URL != "" {
		c.URL = cfg.URL
	}
	if cfg.StreamName != "" {
		c.StreamName = cfg.StreamName
	}
	if cfg.MaxDeliver > 0 {
		c.MaxDeliver = cfg.MaxDeliver
	}
	return c
}

func (c Config) stream() string {
	if c.StreamName == "" {
		return defaultStreamName
	}
	return c.StreamName
}

// Bus is a JetStream connection used both to publish and to consume
type Bus struct {
	conn *nats.Conn
	js   jetstream.JetStream
	cfg  Config
	subs []jetstream.ConsumeContext
}

var _ Publisher = (*Bus)(nil)

// New connects to NATS and creates or updates the settlement stream
func New(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.stream(),
		Subjects:   streamSubjects,
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.stream(), err)
	}

	logger.Info("NATS event bus connected",
		zap.String("url", cfg.URL),
		zap.String("stream", cfg.stream()),
	)
	return &Bus{conn: nc, js: js, cfg: cfg}, nil
}

// Publish stores event on subject. The event ID is the JetStream message ID so a republish
// within the dedup window is dropped, and the caller's trace context travels in the headers.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	if b == nil || b.js == nil {
		return fmt.Errorf("publish to %s: event bus not connected", subject)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if _, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.ID)); err != nil {
		published.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	published.WithLabelValues(subject, "ok").Inc()

	logger.DebugContext(ctx, "event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
	)
	return nil
}

// Close stops the consumers and drains the connection
func (b *Bus) Close() {
	for _, sub := range b.subs {
		sub.Stop()
	}
	if b.conn != nil {
		_ = b.conn.Drain()
	}
	logger.Info("NATS event bus closed")
}

// Connected reports whether the NATS connection is up
func (b *Bus) Connected() bool {
	return b != nil && b.conn != nil && b.conn.IsConnected()
}
