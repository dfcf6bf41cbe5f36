package events

import (
	"time"

	"github.com/google/uuid"
)

// Event es el contrato que cumple cualquier evento de integración publicado entre servicios.
type Event interface {
	EventID() uuid.UUID
	EventCreationTime() time.Time
	// EventName devuelve el tag estable usado como routing key y como clave en el registro.
	EventName() string
}

// IntegrationEvent es la base que embeben todos los eventos de integración.
// ID y CreationTime se fijan al construir el evento y no cambian después.
type IntegrationEvent struct {
	ID           uuid.UUID `json:"id"`
	CreationTime time.Time `json:"creationTime"`
}

// NewIntegrationEvent genera la identidad de un evento nuevo.
func NewIntegrationEvent() IntegrationEvent {
	return IntegrationEvent{
		ID:           uuid.New(),
		CreationTime: time.Now().UTC(),
	}
}

func (e IntegrationEvent) EventID() uuid.UUID { return e.ID }

func (e IntegrationEvent) EventCreationTime() time.Time { return e.CreationTime }
