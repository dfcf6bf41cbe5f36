package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
)

func newCreatedOnlyLog(t *testing.T, reported *[]uuid.UUID) *EventLog {
	t.Helper()
	r := eventbus.NewSubscriptionRegistry(eventbus.NewSerializer())
	require.NoError(t, r.RegisterEventType(events.OrderCreatedName, func() events.Event { return &events.OrderCreatedEvent{} }))
	return NewEventLog(r, zap.NewNop(), WithUnresolvedReporter(func(e domain.EventLogEntry) {
		*reported = append(*reported, e.EventID)
	}))
}

// tableRows simula la tabla ordenada por (creation_time, event_id) y pagina como los stores SQL.
func tableRows(t *testing.T, el *EventLog, evts []events.Event) PendingPage {
	t.Helper()
	var rows []domain.EventLogEntry
	for _, evt := range evts {
		entry, err := el.NewEntry(evt, uuid.New())
		require.NoError(t, err)
		entry.Event = nil
		rows = append(rows, entry)
	}
	return func(_ context.Context, after *PendingCursor, size int) ([]domain.EventLogEntry, error) {
		start := 0
		if after != nil {
			for i, r := range rows {
				if r.EventID == after.EventID {
					start = i + 1
				}
			}
		}
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		return rows[start:end], nil
	}
}

func TestCollectPending_SkipsPagesOfUnresolvedRows(t *testing.T) {
	var reported []uuid.UUID
	el := newCreatedOnlyLog(t, &reported)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var evts []events.Event
	for i := 0; i < 4; i++ {
		changed := events.NewOrderStatusChangedEvent(uuid.New(), "pending", "paid")
		changed.CreationTime = base.Add(time.Duration(i) * time.Second)
		evts = append(evts, changed)
	}
	created := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR")
	created.CreationTime = base.Add(time.Minute)
	evts = append(evts, created)
	fetch := tableRows(t, el, evts)

	out, err := el.CollectPending(context.Background(), 2, fetch)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, created.ID, out[0].EventID)
	assert.IsType(t, &events.OrderCreatedEvent{}, out[0].Event)

	_, err = el.CollectPending(context.Background(), 2, fetch)
	require.NoError(t, err)
	assert.Len(t, reported, 4, "cada fila irresoluble se reporta una sola vez")
}

func TestCollectPending_StopsAtLimit(t *testing.T) {
	var reported []uuid.UUID
	el := newCreatedOnlyLog(t, &reported)

	var evts []events.Event
	for i := 0; i < 5; i++ {
		evts = append(evts, events.NewOrderCreatedEvent(uuid.New(), uuid.New(), int64(i), "EUR"))
	}
	pages := 0
	fetch := tableRows(t, el, evts)
	counting := func(ctx context.Context, after *PendingCursor, size int) ([]domain.EventLogEntry, error) {
		pages++
		return fetch(ctx, after, size)
	}

	out, err := el.CollectPending(context.Background(), 3, counting)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 1, pages)
	assert.Empty(t, reported)
}

func TestCollectPending_PropagatesFetchError(t *testing.T) {
	var reported []uuid.UUID
	el := newCreatedOnlyLog(t, &reported)
	boom := errors.New("connection reset")

	_, err := el.CollectPending(context.Background(), 2, func(context.Context, *PendingCursor, int) ([]domain.EventLogEntry, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
