package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
)

// DefaultEventNamespace prefija el nombre de tipo guardado en event_type_name.
const DefaultEventNamespace = "eventrelay.events"

// EventCodec es lo que los stores necesitan del registro: serializar al guardar
// y resolver el tipo al leer. *eventbus.SubscriptionRegistry lo implementa.
type EventCodec interface {
	Decode(name string, body []byte) (events.Event, error)
	Serializer() *eventbus.Serializer
}

// EventLog contiene la lógica común a los stores SQL del outbox; cada driver
// solo aporta sus sentencias.
type EventLog struct {
	codec        EventCodec
	namespace    string
	log          *zap.Logger
	onUnresolved domain.UnresolvedReporter

	mu       sync.Mutex
	reported map[uuid.UUID]struct{}
}

type EventLogOption func(*EventLog)

func WithNamespace(ns string) EventLogOption {
	return func(e *EventLog) { e.namespace = ns }
}

// WithUnresolvedReporter recibe cada fila omitida por tipo desconocido.
func WithUnresolvedReporter(fn domain.UnresolvedReporter) EventLogOption {
	return func(e *EventLog) { e.onUnresolved = fn }
}

func NewEventLog(codec EventCodec, log *zap.Logger, opts ...EventLogOption) *EventLog {
	e := &EventLog{
		codec:     codec,
		namespace: DefaultEventNamespace,
		log:       log,
		reported:  make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEntry construye la fila NotPublished de evt para la transacción txID.
func (e *EventLog) NewEntry(evt events.Event, txID uuid.UUID) (domain.EventLogEntry, error) {
	content, err := e.codec.Serializer().MarshalIndent(evt)
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	return domain.EventLogEntry{
		EventID:       evt.EventID(),
		EventTypeName: domain.QualifiedEventName(e.namespace, evt.EventName()),
		Content:       string(content),
		State:         domain.NotPublished,
		TimesSent:     0,
		CreationTime:  evt.EventCreationTime().UTC(),
		TransactionID: txID,
		Event:         evt,
	}, nil
}

// Resolve deserializa cada fila a su tipo concreto y las ordena por fecha de creación.
// Las filas sin tipo resoluble se omiten sin tocarlas en la base de datos; cada una
// se registra y se reporta una sola vez por proceso.
func (e *EventLog) Resolve(rows []domain.EventLogEntry) []domain.EventLogEntry {
	out := make([]domain.EventLogEntry, 0, len(rows))
	for _, row := range rows {
		evt, err := e.codec.Decode(row.ShortName(), []byte(row.Content))
		if err != nil {
			e.unresolved(row, err)
			continue
		}
		row.Event = evt
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out
}

func (e *EventLog) unresolved(row domain.EventLogEntry, err error) {
	e.mu.Lock()
	_, seen := e.reported[row.EventID]
	if !seen {
		e.reported[row.EventID] = struct{}{}
	}
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("event_id", row.EventID.String()),
		zap.String("event_type_name", row.EventTypeName),
		zap.Error(err),
	}
	if seen {
		e.log.Debug("Skipping already reported outbox entry", fields...)
		return
	}
	if errors.Is(err, eventbus.ErrUnknownEventType) {
		e.log.Warn("⚠️ Skipping outbox entry with unknown event type", fields...)
	} else {
		e.log.Error("Skipping outbox entry with unreadable content", fields...)
	}
	if e.onUnresolved != nil {
		e.onUnresolved(row)
	}
}

// PendingCursor es la última fila leída de una página del barrido (orden creation_time, event_id).
type PendingCursor struct {
	CreationTime time.Time
	EventID      uuid.UUID
}

// PendingPage lee hasta size filas NotPublished posteriores a after (nil = desde el principio).
type PendingPage func(ctx context.Context, after *PendingCursor, size int) ([]domain.EventLogEntry, error)

// CollectPending pagina con fetch hasta reunir limit filas resolubles o agotar la tabla.
// Las filas irresolubles no consumen el límite.
func (e *EventLog) CollectPending(ctx context.Context, limit int, fetch PendingPage) ([]domain.EventLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var (
		out   []domain.EventLogEntry
		after *PendingCursor
	)
	for len(out) < limit {
		page, err := fetch(ctx, after, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, e.Resolve(page)...)
		if len(page) < limit {
			break
		}
		last := page[len(page)-1]
		after = &PendingCursor{CreationTime: last.CreationTime, EventID: last.EventID}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransitionError decide el error de un UPDATE de estado que no afectó a ninguna fila.
func TransitionError(eventID uuid.UUID, found bool, current, target domain.EventState) error {
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
	}
	return fmt.Errorf("%w: %s -> %s for %s", domain.ErrInvalidStateTransition, current, target, eventID)
}

// StateList devuelve los orígenes permitidos de target como lista SQL, ej. "0,1,3".
func StateList(target domain.EventState) string {
	src := target.AllowedSources()
	parts := make([]string, len(src))
	for i, s := range src {
		parts[i] = strconv.Itoa(int(s))
	}
	return strings.Join(parts, ",")
}
