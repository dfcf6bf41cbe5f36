package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
	"github.com/davicafu/eventrelay/shared/utils"
)

const (
	DefaultExchangeName = "eventrelay_event_bus"
	DefaultRetryCount   = 10
)

var (
	ErrPublishNacked  = errors.New("broker nacked the publish")
	ErrConfirmTimeout = errors.New("timed out waiting for publish confirm")
	ErrBusStarted     = errors.New("event bus consumer already started")
)

type RabbitMQOptions struct {
	URL                    string
	ExchangeName           string
	SubscriptionClientName string        // nombre de la cola; obligatorio para consumir
	RetryCount             *int          // reintentos tras el primer intento; nil = DefaultRetryCount, 0 = ninguno
	RetryBaseDelay         time.Duration // espera = base * 2^(n-1)
	RetryMaxDelay          time.Duration
	PrefetchCount          int
	ConfirmTimeout         time.Duration
	ReconnectDelay         time.Duration
}

// Retries construye el valor de RabbitMQOptions.RetryCount.
func Retries(n int) *int { return &n }

func (o RabbitMQOptions) withDefaults() RabbitMQOptions {
	if o.ExchangeName == "" {
		o.ExchangeName = DefaultExchangeName
	}
	switch {
	case o.RetryCount == nil:
		o.RetryCount = Retries(DefaultRetryCount)
	case *o.RetryCount < 0:
		o.RetryCount = Retries(0)
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 30 * time.Second
	}
	if o.PrefetchCount <= 0 {
		o.PrefetchCount = 10
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 5 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	return o
}

// RabbitMQEventBus publica en un exchange topic durable y consume de una cola
// propia enlazada con cada evento que tiene handlers.
type RabbitMQEventBus struct {
	opts      RabbitMQOptions
	processor *eventbus.Processor
	log       *zap.Logger
	tel       telemetry
	dial      Dialer

	mu   sync.Mutex
	conn AMQPConnection

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRabbitMQEventBus(opts RabbitMQOptions, processor *eventbus.Processor, log *zap.Logger, options ...Option) *RabbitMQEventBus {
	o := collectOptions(options)
	return &RabbitMQEventBus{
		opts:      opts.withDefaults(),
		processor: processor,
		log:       log,
		tel:       o.tel,
		dial:      o.dial,
	}
}

// connection devuelve la conexión compartida, volviendo a marcar si se cerró.
func (b *RabbitMQEventBus) connection() (AMQPConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := b.dial(b.opts.URL)
	if err != nil {
		return nil, utils.Transient(fmt.Errorf("dial rabbitmq: %w", err))
	}
	b.conn = conn
	b.log.Info("🐇 Connected to RabbitMQ", zap.String("exchange", b.opts.ExchangeName))
	return conn, nil
}

func (b *RabbitMQEventBus) closeConnection() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	conn := b.conn
	b.conn = nil
	if conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Publish serializa evt y lo publica con confirmación del broker. Los fallos
// transitorios se reintentan con backoff exponencial hasta RetryCount veces.
func (b *RabbitMQEventBus) Publish(ctx context.Context, evt events.Event) error {
	name := evt.EventName()
	body, err := b.processor.Registry().Serializer().Marshal(evt)
	if err != nil {
		b.log.Error("Error serializing event", zap.String("event_name", name), zap.Error(err))
		return err
	}

	policy := utils.RetryPolicy{
		Retries:   *b.opts.RetryCount,
		BaseDelay: b.opts.RetryBaseDelay,
		MaxDelay:  b.opts.RetryMaxDelay,
		Jitter:    true,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			b.log.Warn("Could not publish event, retrying",
				zap.String("event_id", evt.EventID().String()),
				zap.String("event_name", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	err = utils.RetryWithPolicy(ctx, policy, func(attempt int) error {
		err := b.publishOnce(ctx, evt, body, attempt)
		if err != nil && isTransientAMQP(err) {
			return utils.Transient(err)
		}
		return err
	})
	if err != nil {
		b.log.Error("❌ Error publishing event to RabbitMQ",
			zap.String("event_id", evt.EventID().String()),
			zap.String("event_name", name),
			zap.Error(err),
		)
		return err
	}

	b.log.Debug("Event published", zap.String("event_id", evt.EventID().String()), zap.String("event_name", name))
	return nil
}

func (b *RabbitMQEventBus) publishOnce(ctx context.Context, evt events.Event, body []byte, attempt int) (err error) {
	name := evt.EventName()
	ctx, span := b.tel.tracer.Start(ctx, "publish "+name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", b.opts.ExchangeName),
			attribute.String("messaging.rabbitmq.destination.routing_key", name),
			attribute.String("messaging.message.id", evt.EventID().String()),
			attribute.Int("eventrelay.publish.attempt", attempt),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	conn, err := b.connection()
	if err != nil {
		return err
	}
	// un canal por publicación: los canales AMQP no se comparten entre goroutines
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(b.opts.ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	headers := amqp.Table{}
	b.tel.injectAMQP(ctx, headers)

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.EventID().String(),
		Timestamp:    evt.EventCreationTime(),
		Type:         name,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, b.opts.ExchangeName, name, true, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	timer := time.NewTimer(b.opts.ConfirmTimeout)
	defer timer.Stop()
	select {
	case c, ok := <-confirms:
		if !ok {
			return amqp.ErrClosed
		}
		if !c.Ack {
			return ErrPublishNacked
		}
		return nil
	case <-timer.C:
		return ErrConfirmTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start sella el registro y lanza el bucle de consumo en una goroutine.
func (b *RabbitMQEventBus) Start(ctx context.Context) error {
	if b.opts.SubscriptionClientName == "" {
		return errors.New("rabbitmq: SubscriptionClientName is required to consume")
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.cancel != nil {
		return ErrBusStarted
	}

	b.processor.Registry().Seal()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	b.log.Info("🎧 Starting RabbitMQ consumer",
		zap.String("queue", b.opts.SubscriptionClientName),
		zap.Strings("events", b.processor.Registry().SubscribedEventNames()),
	)
	go b.consumeLoop(loopCtx, b.done)
	return nil
}

// Stop deja de aceptar mensajes y espera al que está en curso hasta que vence ctx.
// Si vence antes, el mensaje queda sin ack y el broker lo volverá a entregar.
func (b *RabbitMQEventBus) Stop(ctx context.Context) error {
	b.runMu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.runMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
			b.log.Info("RabbitMQ consumer stopped")
		case <-ctx.Done():
			b.log.Warn("⏱️ Shutdown deadline reached, abandoning in-flight message")
		}
	}
	return b.closeConnection()
}

func (b *RabbitMQEventBus) consumeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	backoff := utils.RetryPolicy{BaseDelay: b.opts.ReconnectDelay, MaxDelay: b.opts.RetryMaxDelay, Jitter: true}
	failures := 0
	for {
		established, err := b.consumeSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if established {
			failures = 0
		}
		failures++

		delay := backoff.Delay(failures)
		b.log.Warn("🔌 RabbitMQ consumer session lost, reconnecting",
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if utils.SleepWithContext(ctx, delay) != nil {
			return
		}
	}
}

// consumeSession declara la topología y consume hasta que se cae el canal o se cancela ctx.
// established indica si se llegó a consumir.
func (b *RabbitMQEventBus) consumeSession(ctx context.Context) (established bool, err error) {
	conn, err := b.connection()
	if err != nil {
		return false, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := b.declareTopology(ch); err != nil {
		return false, err
	}
	if err := ch.Qos(b.opts.PrefetchCount, 0, false); err != nil {
		return false, fmt.Errorf("set qos: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.ConsumeWithContext(ctx, b.opts.SubscriptionClientName, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume: %w", err)
	}

	// los handlers no se cortan con el bucle: Stop decide cuánto esperar
	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return true, amqp.ErrClosed
			}
			return true, amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("delivery channel closed")
			}
			b.handleDelivery(handlerCtx, d)
		}
	}
}

func (b *RabbitMQEventBus) declareTopology(ch AMQPChannel) error {
	if err := ch.ExchangeDeclare(b.opts.ExchangeName, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(b.opts.SubscriptionClientName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, name := range b.processor.Registry().SubscribedEventNames() {
		if err := ch.QueueBind(b.opts.SubscriptionClientName, name, b.opts.ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

func (b *RabbitMQEventBus) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx = b.tel.extractAMQP(ctx, d.Headers)
	ctx, span := b.tel.tracer.Start(ctx, "process "+d.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", b.opts.SubscriptionClientName),
			attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
			attribute.String("messaging.message.id", d.MessageId),
		),
	)
	defer span.End()

	fields := []zap.Field{zap.String("event_name", d.RoutingKey), zap.String("message_id", d.MessageId)}
	err := b.processor.Process(ctx, d.RoutingKey, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			b.log.Error("Error acking message", append(fields, zap.Error(ackErr))...)
		}
	case eventbus.IsUnretryable(err):
		// reencolarlo no lo arreglaría: se descarta
		b.log.Warn("⚠️ Dropping message", append(fields, zap.Error(err))...)
		span.SetStatus(codes.Error, err.Error())
		if ackErr := d.Ack(false); ackErr != nil {
			b.log.Error("Error acking message", append(fields, zap.Error(ackErr))...)
		}
	default:
		b.log.Error("Error processing message, requeueing", append(fields, zap.Error(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if nackErr := d.Nack(false, true); nackErr != nil {
			b.log.Error("Error nacking message", append(fields, zap.Error(nackErr))...)
		}
	}
}

// isTransientAMQP indica si merece la pena repetir una publicación fallida.
func isTransientAMQP(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrPublishNacked), errors.Is(err, ErrConfirmTimeout),
		errors.Is(err, amqp.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case utils.IsTransient(err):
		return true
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover || amqpErr.Code == amqp.ConnectionForced || amqpErr.Code == amqp.ChannelError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ sharedBus.EventBus = (*RabbitMQEventBus)(nil)
