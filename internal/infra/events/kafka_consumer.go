package events

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/utils"
)

// KafkaReader es lo que el consumidor necesita de *kafka.Reader.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer es el "oído" que escucha en Kafka y pasa cada mensaje al Processor.
// Kafka no tiene requeue: si un handler falla se reintenta el mismo mensaje en el
// sitio, sin hacer commit, hasta que funcione o se pare el consumidor.
type KafkaConsumer struct {
	reader    KafkaReader
	processor *eventbus.Processor
	backoff   utils.RetryPolicy
	tel       telemetry
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaConsumer(reader KafkaReader, processor *eventbus.Processor, log *zap.Logger, options ...Option) *KafkaConsumer {
	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
		backoff:   utils.RetryPolicy{BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: true},
		tel:       collectOptions(options).tel,
		log:       log,
	}
}

// WithRetryDelays cambia el backoff entre reintentos de un mismo mensaje.
func (c *KafkaConsumer) WithRetryDelays(base, maxDelay time.Duration) *KafkaConsumer {
	c.backoff.BaseDelay, c.backoff.MaxDelay = base, maxDelay
	return c
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrBusStarted
	}

	c.processor.Registry().Seal()
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.Strings("events", c.processor.Registry().SubscribedEventNames()))
	go c.run(loopCtx, c.done)
	return nil
}

// Stop cancela el bucle y espera al mensaje en curso hasta que vence ctx.
func (c *KafkaConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			c.log.Warn("⏱️ Shutdown deadline reached, abandoning in-flight Kafka message")
		}
	}
	return c.reader.Close()
}

func (c *KafkaConsumer) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	fetchFailures := 0
	for {
		// FetchMessage es una llamada bloqueante.
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// Si el contexto se cancela, el error es normal y salimos limpiamente.
			if ctx.Err() != nil {
				c.log.Info("Consumidor de Kafka detenido.")
				return
			}
			fetchFailures++
			delay := c.backoff.Delay(fetchFailures)
			c.log.Error("Error al leer mensaje de Kafka",
				zap.Int("failures", fetchFailures), zap.Duration("retry_in", delay), zap.Error(err))
			if utils.SleepWithContext(ctx, delay) != nil {
				c.log.Info("Consumidor de Kafka detenido.")
				return
			}
			continue
		}
		fetchFailures = 0

		if !c.handle(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.log.Error("Error committing Kafka offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle procesa msg hasta que termina bien o se descarta. Devuelve false si se
// paró el consumidor antes, en cuyo caso no hay que hacer commit.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	headers := msg.Headers
	carrier := kafkaHeaderCarrier{headers: &headers}
	name := carrier.Get(EventNameHeader)
	if name == "" {
		name = string(msg.Key)
	}

	handlerCtx := c.tel.propagator.Extract(context.WithoutCancel(ctx), carrier)
	for attempt := 1; ; attempt++ {
		spanCtx, span := c.tel.tracer.Start(handlerCtx, "process "+name,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination.name", msg.Topic),
				attribute.Int64("messaging.kafka.offset", msg.Offset),
			),
		)
		err := c.processor.Process(spanCtx, name, msg.Value)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		switch {
		case err == nil:
			return true
		case eventbus.IsUnretryable(err):
			c.log.Warn("⚠️ Dropping Kafka message", zap.String("event_name", name), zap.Error(err))
			return true
		}

		delay := c.backoff.Delay(attempt)
		c.log.Error("Error processing Kafka message, retrying in place",
			zap.String("event_name", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if utils.SleepWithContext(ctx, delay) != nil {
			return false
		}
	}
}
