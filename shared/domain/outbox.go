package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
)

// EventState es el estado de publicación de una entrada del outbox.
// Los valores se guardan tal cual en la columna state (0-3).
type EventState int

const (
	NotPublished    EventState = 0
	InProgress      EventState = 1
	Published       EventState = 2
	PublishedFailed EventState = 3
)

func (s EventState) String() string {
	switch s {
	case NotPublished:
		return "NotPublished"
	case InProgress:
		return "InProgress"
	case Published:
		return "Published"
	case PublishedFailed:
		return "PublishedFailed"
	default:
		return "Unknown"
	}
}

// AllowedSources devuelve los estados desde los que se puede llegar a s.
// NotPublished no tiene orígenes: ninguna transición vuelve a él.
func (s EventState) AllowedSources() []EventState {
	switch s {
	case InProgress:
		return []EventState{NotPublished, InProgress, PublishedFailed}
	case Published:
		return []EventState{InProgress, Published}
	case PublishedFailed:
		return []EventState{InProgress, PublishedFailed}
	default:
		return nil
	}
}

// CanTransitionTo indica si la máquina de estados permite pasar de s a target.
func (s EventState) CanTransitionTo(target EventState) bool {
	for _, src := range target.AllowedSources() {
		if src == s {
			return true
		}
	}
	return false
}

var (
	ErrTransactionRequired    = errors.New("an open transaction is required to save an integration event")
	ErrEventNotFound          = errors.New("integration event log entry not found")
	ErrInvalidStateTransition = errors.New("invalid integration event state transition")
)

// EventLogEntry es una fila del outbox.
type EventLogEntry struct {
	EventID       uuid.UUID  `json:"eventId"`
	EventTypeName string     `json:"eventTypeName"` // nombre cualificado, ej. "eventrelay.events.OrderCreatedEvent"
	Content       string     `json:"content"`       // JSON indentado del evento
	State         EventState `json:"state"`
	TimesSent     int        `json:"timesSent"`
	CreationTime  time.Time  `json:"creationTime"`
	TransactionID uuid.UUID  `json:"transactionId"`

	// Event se rellena al leer la fila; no se persiste.
	Event events.Event `json:"-"`
}

// ShortName devuelve el último segmento del nombre cualificado.
func (e EventLogEntry) ShortName() string {
	return ShortEventName(e.EventTypeName)
}

// ShortEventName quita el namespace de un nombre de tipo cualificado.
func ShortEventName(typeName string) string {
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		return typeName[i+1:]
	}
	return typeName
}

// QualifiedEventName antepone el namespace al nombre de un evento.
func QualifiedEventName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// EventLogStore es el contrato del outbox. Es el único que escribe filas de EventLogEntry.
type EventLogStore interface {
	// SaveEvent inserta una entrada NotPublished usando la transacción del llamante.
	// Devuelve ErrTransactionRequired si tx es nil.
	SaveEvent(ctx context.Context, evt events.Event, tx *persistence.Transaction) error

	// RetrievePendingByTransaction devuelve las entradas NotPublished de una transacción,
	// ordenadas por fecha de creación ascendente. Las de tipo desconocido se omiten.
	RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]EventLogEntry, error)

	// RetrievePending devuelve entradas NotPublished creadas antes de olderThan, hasta limit.
	RetrievePending(ctx context.Context, olderThan time.Time, limit int) ([]EventLogEntry, error)

	// MarkInProgress incrementa TimesSent en 1.
	MarkInProgress(ctx context.Context, eventID uuid.UUID) error
	MarkPublished(ctx context.Context, eventID uuid.UUID) error
	MarkFailed(ctx context.Context, eventID uuid.UUID) error
}

// UnresolvedReporter recibe las entradas cuyo tipo no se pudo resolver al leerlas.
type UnresolvedReporter func(entry EventLogEntry)
