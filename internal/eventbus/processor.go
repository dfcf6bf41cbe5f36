package eventbus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnknownEventType: no hay tipo registrado para el nombre recibido. No se reintenta.
	ErrUnknownEventType = errors.New("unknown integration event type")
	// ErrMalformedEvent: el cuerpo no se puede deserializar al tipo registrado. No se reintenta.
	ErrMalformedEvent = errors.New("malformed integration event")
)

// HandlerError indica que un handler falló; el mensaje debe volver a entregarse.
type HandlerError struct {
	EventName string
	Index     int
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler #%d for %s failed: %v", e.Index, e.EventName, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsUnretryable indica si err corresponde a un mensaje que hay que descartar (ack) en vez de reencolar.
func IsUnretryable(err error) bool {
	return errors.Is(err, ErrUnknownEventType) || errors.Is(err, ErrMalformedEvent)
}

// Processor es la parte de consumo común a todos los transportes:
// resolver el tipo, deserializar y ejecutar todos los handlers.
type Processor struct {
	registry *SubscriptionRegistry
	log      *zap.Logger
}

func NewProcessor(registry *SubscriptionRegistry, log *zap.Logger) *Processor {
	return &Processor{registry: registry, log: log}
}

func (p *Processor) Registry() *SubscriptionRegistry { return p.registry }

// Process ejecuta secuencialmente cada handler registrado para name.
// Devuelve nil solo si todos terminan bien; el primero que falla corta la cadena.
func (p *Processor) Process(ctx context.Context, name string, body []byte) error {
	evt, err := p.registry.Decode(name, body)
	if err != nil {
		return err
	}

	handlers := p.registry.ResolveHandlers(name)
	if len(handlers) == 0 {
		// Tipo conocido pero sin suscriptores en este servicio: nada que hacer.
		p.log.Debug("No handlers registered for event", zap.String("event_name", name))
		return nil
	}

	for i, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			return &HandlerError{EventName: name, Index: i, Err: err}
		}
	}

	p.log.Debug("Event processed",
		zap.String("event_name", name),
		zap.String("event_id", evt.EventID().String()),
		zap.Int("handlers", len(handlers)),
	)
	return nil
}
