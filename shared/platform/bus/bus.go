package bus

import (
	"context"

	"github.com/davicafu/eventrelay/shared/events"
)

type Keyer interface {
	PartitionKey() string
}

// EventBus publica eventos de integración. Los reintentos ante fallos transitorios
// del transporte ocurren dentro de Publish; el error devuelto es definitivo.
type EventBus interface {
	Publish(ctx context.Context, evt events.Event) error
}

// Handler procesa un evento ya deserializado a su tipo concreto.
type Handler interface {
	Handle(ctx context.Context, evt events.Event) error
}

type HandlerFunc func(ctx context.Context, evt events.Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt events.Event) error {
	return f(ctx, evt)
}
