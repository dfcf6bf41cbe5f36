package events

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
	"github.com/davicafu/eventrelay/shared/utils"
)

// EventNameHeader lleva el nombre del evento; la clave del mensaje es la de partición.
const EventNameHeader = "event-name"

// KafkaWriter es lo que el bus necesita de *kafka.Writer.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventBus publica en un topic de Kafka. Es la alternativa a RabbitMQ.
type KafkaEventBus struct {
	writer     KafkaWriter
	serializer *eventbus.Serializer
	policy     utils.RetryPolicy
	tel        telemetry
	log        *zap.Logger
}

func NewKafkaEventBus(writer KafkaWriter, serializer *eventbus.Serializer, retryCount int, log *zap.Logger, options ...Option) *KafkaEventBus {
	if retryCount < 0 {
		retryCount = 0
	}
	return &KafkaEventBus{
		writer:     writer,
		serializer: serializer,
		policy:     utils.RetryPolicy{Retries: retryCount, BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: true},
		tel:        collectOptions(options).tel,
		log:        log,
	}
}

// WithRetryDelays cambia la base y el máximo del backoff de publicación.
func (p *KafkaEventBus) WithRetryDelays(base, maxDelay time.Duration) *KafkaEventBus {
	p.policy.BaseDelay, p.policy.MaxDelay = base, maxDelay
	return p
}

func (p *KafkaEventBus) Publish(ctx context.Context, evt events.Event) error {
	name := evt.EventName()
	data, err := p.serializer.Marshal(evt)
	if err != nil {
		p.log.Error("Error serializing event", zap.String("event_name", name), zap.Error(err))
		return err
	}

	// la clave de partición mantiene el orden por agregado
	key := []byte(name)
	if keyer, ok := evt.(sharedBus.Keyer); ok {
		key = []byte(keyer.PartitionKey())
	}

	policy := p.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		p.log.Warn("Could not publish event to Kafka, retrying",
			zap.String("event_id", evt.EventID().String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err = utils.RetryWithPolicy(ctx, policy, func(attempt int) error {
		spanCtx, span := p.tel.tracer.Start(ctx, "publish "+name,
			trace.WithSpanKind(trace.SpanKindProducer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.message.id", evt.EventID().String()),
				attribute.Int("eventrelay.publish.attempt", attempt),
			),
		)
		defer span.End()

		headers := []kafka.Header{{Key: EventNameHeader, Value: []byte(name)}}
		p.tel.propagator.Inject(spanCtx, kafkaHeaderCarrier{headers: &headers})

		msg := kafka.Message{Key: key, Value: data, Headers: headers, Time: evt.EventCreationTime()}
		if err := p.writer.WriteMessages(spanCtx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if isTransientKafka(err) {
				return utils.Transient(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		p.log.Error("Error publishing to Kafka", zap.String("event_id", evt.EventID().String()), zap.Error(err))
		return err
	}

	p.log.Debug("Event published successfully", zap.String("event_id", evt.EventID().String()), zap.String("event_name", name))
	return nil
}

func (p *KafkaEventBus) Close() error {
	return p.writer.Close()
}

// isTransientKafka: todo es reintentable salvo cancelaciones y errores que kafka marca como definitivos.
func isTransientKafka(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var kErr kafka.Error
	if errors.As(err, &kErr) {
		return kErr.Temporary()
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && !isTransientKafka(e) {
				return false
			}
		}
	}
	return true
}

// Verificación estática
var _ sharedBus.EventBus = (*KafkaEventBus)(nil)
