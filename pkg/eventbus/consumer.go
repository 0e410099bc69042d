package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_published_total",
		Help: "Events published to JetStream by subject and result",
	}, []string{"subject", "result"})

	consumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_events_consumed_total",
		Help: "Events handled by subject and outcome (ack, retry, term)",
	}, []string{"subject", "outcome"})
)

// handlerTimeout bounds one handler run; it stays below the ack wait
const handlerTimeout = 20 * time.Second

// delivery is the part of a JetStream message the dispatcher needs
type delivery interface {
	Data() []byte
	Subject() string
	Headers() nats.Header
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type outcome string

const (
	outcomeAck   outcome = "ack"
	outcomeRetry outcome = "retry"
	outcomeTerm  outcome = "term"
)

// Subscribe attaches handler to a durable consumer on subject. consumerName must be unique
// per subscription, for example "settlement-rides-completed".
func (b *Bus) Subscribe(ctx context.Context, subject, consumerName string, handler HandlerFunc) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.cfg.stream(), jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		dispatch(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	b.subs = append(b.subs, cc)
	logger.Info("subscribed to events",
		zap.String("subject", subject),
		zap.String("consumer", consumerName),
	)
	return nil
}

// dispatch runs handler for one message and settles it
func dispatch(ctx context.Context, msg delivery, handler HandlerFunc) outcome {
	var event Event
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		logger.Warn("dropping malformed event", zap.String("subject", msg.Subject()), zap.Error(err))
		return settle(msg, outcomeTerm, 0)
	}

	if h := msg.Headers(); h != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(h)))
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	err := handler(ctx, &event)
	switch {
	case err == nil:
		return settle(msg, outcomeAck, 0)
	case IsPermanent(err):
		logger.WarnContext(ctx, "event rejected permanently",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return settle(msg, outcomeTerm, 0)
	default:
		delay := redeliveryDelay(msg)
		logger.WarnContext(ctx, "event handler failed, redelivering",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		return settle(msg, outcomeRetry, delay)
	}
}

func settle(msg delivery, o outcome, delay time.Duration) outcome {
	var err error
	switch o {
	case outcomeAck:
		err = msg.Ack()
	case outcomeTerm:
		err = msg.Term()
	case outcomeRetry:
		err = msg.NakWithDelay(delay)
	}
	if err != nil {
		logger.Warn("failed to settle event", zap.String("outcome", string(o)), zap.Error(err))
	}
	consumed.WithLabelValues(msg.Subject(), string(o)).Inc()
	return o
}

// redeliveryDelay doubles from two seconds with each delivery, capped at one minute
func redeliveryDelay(msg delivery) time.Duration {
	deliveries := uint64(1)
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 0 {
		deliveries = md.NumDelivered
	}
	shift := min(deliveries-1, 5)
	return min(2*time.Second<<shift, time.Minute)
}
