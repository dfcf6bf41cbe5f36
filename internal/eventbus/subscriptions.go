package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

var (
	ErrRegistrySealed     = errors.New("subscription registry is sealed")
	ErrDuplicateEvent     = errors.New("event type already registered")
	ErrEventNotRegistered = errors.New("event type not registered")
	ErrInvalidEventName   = errors.New("event name must not be empty")
)

// EventFactory devuelve un puntero a un valor cero del tipo concreto del evento.
type EventFactory func() events.Event

// HandlerFactory crea una instancia nueva de handler para cada mensaje.
type HandlerFactory func() sharedBus.Handler

// SubscriptionRegistry mapea nombres de evento a su tipo concreto y a sus handlers.
// Se rellena al arrancar y queda en solo lectura tras Seal.
type SubscriptionRegistry struct {
	mu         sync.RWMutex
	types      map[string]EventFactory
	handlers   map[string][]HandlerFactory
	serializer *Serializer
	sealed     bool
}

func NewSubscriptionRegistry(serializer *Serializer) *SubscriptionRegistry {
	if serializer == nil {
		serializer = NewSerializer()
	}
	return &SubscriptionRegistry{
		types:      make(map[string]EventFactory),
		handlers:   make(map[string][]HandlerFactory),
		serializer: serializer,
	}
}

// RegisterEventType asocia name con el tipo que construye factory.
// El nombre debe coincidir con el EventName() de los eventos que construye.
func (r *SubscriptionRegistry) RegisterEventType(name string, factory EventFactory) error {
	if name == "" {
		return ErrInvalidEventName
	}
	if factory == nil {
		return fmt.Errorf("nil factory for %s", name)
	}
	if got := factory().EventName(); got != name {
		return fmt.Errorf("factory for %q builds %q events", name, got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, name)
	}
	r.types[name] = factory
	return nil
}

// RegisterHandler añade un handler para name. Se admiten varios por evento.
func (r *SubscriptionRegistry) RegisterHandler(name string, factory HandlerFactory) error {
	if factory == nil {
		return fmt.Errorf("nil handler factory for %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if _, ok := r.types[name]; !ok {
		return fmt.Errorf("%w: %s", ErrEventNotRegistered, name)
	}
	r.handlers[name] = append(r.handlers[name], factory)
	return nil
}

// ResolveType devuelve la factoría del tipo asociado a name.
func (r *SubscriptionRegistry) ResolveType(name string) (EventFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.types[name]
	return f, ok
}

// ResolveHandlers instancia todos los handlers registrados para name, en orden de registro.
func (r *SubscriptionRegistry) ResolveHandlers(name string) []sharedBus.Handler {
	r.mu.RLock()
	factories := r.handlers[name]
	r.mu.RUnlock()

	handlers := make([]sharedBus.Handler, 0, len(factories))
	for _, f := range factories {
		handlers = append(handlers, f())
	}
	return handlers
}

// EventNames devuelve los nombres registrados, ordenados.
func (r *SubscriptionRegistry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubscribedEventNames devuelve solo los nombres con al menos un handler; son las bindings de la cola.
func (r *SubscriptionRegistry) SubscribedEventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name, hs := range r.handlers {
		if len(hs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Seal congela el registro. Es idempotente.
func (r *SubscriptionRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *SubscriptionRegistry) Serializer() *Serializer {
	return r.serializer
}

// Decode deserializa body al tipo registrado para name.
func (r *SubscriptionRegistry) Decode(name string, body []byte) (events.Event, error) {
	factory, ok := r.ResolveType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, name)
	}
	evt := factory()
	if err := r.serializer.Unmarshal(body, evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return evt, nil
}

// TypedHandler es un handler que recibe el tipo concreto del evento.
type TypedHandler[T events.Event] interface {
	Handle(ctx context.Context, evt T) error
}

// Typed adapta un TypedHandler a la interfaz genérica del bus.
func Typed[T events.Event](h TypedHandler[T]) sharedBus.Handler {
	return sharedBus.HandlerFunc(func(ctx context.Context, evt events.Event) error {
		typed, ok := evt.(T)
		if !ok {
			return fmt.Errorf("handler expects %T, got %T", *new(T), evt)
		}
		return h.Handle(ctx, typed)
	})
}

// AddSubscription registra el tipo T (si hace falta) y un handler tipado para él.
func AddSubscription[T events.Event](r *SubscriptionRegistry, newEvent func() T, newHandler func() TypedHandler[T]) error {
	name := newEvent().EventName()
	if _, ok := r.ResolveType(name); !ok {
		if err := r.RegisterEventType(name, func() events.Event { return newEvent() }); err != nil {
			return err
		}
	}
	return r.RegisterHandler(name, func() sharedBus.Handler { return Typed[T](newHandler()) })
}
