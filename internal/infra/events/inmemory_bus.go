package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

// DefaultMaxRedeliveries limita los reintentos de un mensaje cuyo handler falla.
const DefaultMaxRedeliveries = 5

type envelope struct {
	name     string
	body     []byte
	attempts int
}

// InMemoryEventBus es un bus dentro del proceso: útil en local y en tests.
// Publica y consume por el mismo canal, con la misma semántica de ack/requeue
// que los brokers reales pero sin durabilidad.
type InMemoryEventBus struct {
	processor       *eventbus.Processor
	log             *zap.Logger
	queue           chan envelope
	MaxRedeliveries int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewInMemoryEventBus crea un bus con un buffer de bufferSize mensajes.
func NewInMemoryEventBus(processor *eventbus.Processor, bufferSize int, log *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		processor:       processor,
		log:             log,
		queue:           make(chan envelope, bufferSize),
		MaxRedeliveries: DefaultMaxRedeliveries,
	}
}

// Publish serializa el evento igual que un broker y lo encola. Bloquea si el buffer está lleno.
func (b *InMemoryEventBus) Publish(ctx context.Context, evt events.Event) error {
	body, err := b.processor.Registry().Serializer().Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case b.queue <- envelope{name: evt.EventName(), body: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return ErrBusStarted
	}

	b.processor.Registry().Seal()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(loopCtx, b.done)
	return nil
}

func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		b.wg.Wait()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryEventBus) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.queue:
			b.dispatch(ctx, handlerCtx, env)
		}
	}
}

func (b *InMemoryEventBus) dispatch(loopCtx, ctx context.Context, env envelope) {
	err := b.processor.Process(ctx, env.name, env.body)
	switch {
	case err == nil:
		return
	case eventbus.IsUnretryable(err):
		b.log.Warn("⚠️ Dropping in-memory message", zap.String("event_name", env.name), zap.Error(err))
		return
	case env.attempts >= b.MaxRedeliveries:
		b.log.Error("Giving up on in-memory message", zap.String("event_name", env.name),
			zap.Int("attempt", env.attempts+1), zap.Error(err))
		return
	}

	env.attempts++
	b.log.Warn("Requeueing in-memory message", zap.String("event_name", env.name),
		zap.Int("attempt", env.attempts), zap.Error(err))
	// se reencola desde otra goroutine para no bloquear el bucle con el buffer lleno
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case b.queue <- env:
		case <-loopCtx.Done():
		}
	}()
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventBus = (*InMemoryEventBus)(nil)
