package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/tests/mocks"
)

func pendingEntry(txID uuid.UUID) domain.EventLogEntry {
	evt := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 100, "EUR")
	return domain.EventLogEntry{
		EventID:       evt.ID,
		EventTypeName: domain.QualifiedEventName("eventrelay.events", evt.EventName()),
		State:         domain.NotPublished,
		CreationTime:  evt.CreationTime,
		TransactionID: txID,
		Event:         evt,
	}
}

func TestDispatcher_PublishesEveryEntryInOrder(t *testing.T) {
	// ARRANGE
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	txID := uuid.New()
	first, second := pendingEntry(txID), pendingEntry(txID)
	var published []uuid.UUID

	store.On("RetrievePendingByTransaction", mock.Anything, txID).Return([]domain.EventLogEntry{first, second}, nil).Once()
	for _, e := range []domain.EventLogEntry{first, second} {
		store.On("MarkInProgress", mock.Anything, e.EventID).Return(nil).Once()
		store.On("MarkPublished", mock.Anything, e.EventID).Return(nil).Once()
	}
	bus.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = append(published, args.Get(1).(events.Event).EventID())
	}).Return(nil).Twice()

	d := NewDispatcher(store, bus, metrics, zap.NewNop())

	// ACT
	err := d.PublishThroughEventBus(context.Background(), txID)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.EventID, second.EventID}, published)
	store.AssertExpectations(t)
	bus.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.published.WithLabelValues(events.OrderCreatedName)))
}

func TestDispatcher_PublishFailureMarksFailedAndContinues(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)
	metrics := NewMetrics(prometheus.NewRegistry())

	txID := uuid.New()
	broken, healthy := pendingEntry(txID), pendingEntry(txID)
	brokerDown := errors.New("rabbitmq is down")

	store.On("RetrievePendingByTransaction", mock.Anything, txID).Return([]domain.EventLogEntry{broken, healthy}, nil).Once()
	store.On("MarkInProgress", mock.Anything, broken.EventID).Return(nil).Once()
	store.On("MarkFailed", mock.Anything, broken.EventID).Return(nil).Once()
	store.On("MarkInProgress", mock.Anything, healthy.EventID).Return(nil).Once()
	store.On("MarkPublished", mock.Anything, healthy.EventID).Return(nil).Once()
	bus.On("Publish", mock.Anything, broken.Event).Return(brokerDown).Once()
	bus.On("Publish", mock.Anything, healthy.Event).Return(nil).Once()

	err := NewDispatcher(store, bus, metrics, zap.NewNop()).PublishThroughEventBus(context.Background(), txID)

	assert.ErrorIs(t, err, brokerDown)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkPublished", mock.Anything, broken.EventID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failed.WithLabelValues(events.OrderCreatedName)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.published.WithLabelValues(events.OrderCreatedName)))
}

func TestDispatcher_SkipsPublishWhenInProgressFails(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)

	txID := uuid.New()
	entry := pendingEntry(txID)
	store.On("RetrievePendingByTransaction", mock.Anything, txID).Return([]domain.EventLogEntry{entry}, nil).Once()
	store.On("MarkInProgress", mock.Anything, entry.EventID).Return(domain.ErrInvalidStateTransition).Once()

	err := NewDispatcher(store, bus, nil, zap.NewNop()).PublishThroughEventBus(context.Background(), txID)

	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestDispatcher_RetrieveFailure(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)
	dbDown := errors.New("database is locked")
	store.On("RetrievePendingByTransaction", mock.Anything, mock.Anything).Return(nil, dbDown).Once()

	err := NewDispatcher(store, bus, nil, zap.NewNop()).PublishThroughEventBus(context.Background(), uuid.New())

	assert.ErrorIs(t, err, dbDown)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestMetrics_ReportUnresolved(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var report domain.UnresolvedReporter = metrics.ReportUnresolved

	report(domain.EventLogEntry{EventTypeName: "eventrelay.events.RetiredEvent"})
	report(domain.EventLogEntry{EventTypeName: "eventrelay.events.RetiredEvent"})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.unresolved.WithLabelValues("eventrelay.events.RetiredEvent")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ReportUnresolved(domain.EventLogEntry{}) })
}

func TestOutboxWorker_ProcessBatch_UsesGraceWindow(t *testing.T) {
	// ARRANGE
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	orphan := pendingEntry(uuid.New())

	store.On("RetrievePending", mock.Anything, now.Add(-30*time.Second), 50).Return([]domain.EventLogEntry{orphan}, nil).Once()
	store.On("MarkInProgress", mock.Anything, orphan.EventID).Return(nil).Once()
	store.On("MarkPublished", mock.Anything, orphan.EventID).Return(nil).Once()
	bus.On("Publish", mock.Anything, orphan.Event).Return(nil).Once()

	worker := NewOutboxWorker(store, NewDispatcher(store, bus, nil, zap.NewNop()), time.Second, 30*time.Second, 50, zap.NewNop())
	worker.now = func() time.Time { return now }

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	store.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_StoreError(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)
	store.On("RetrievePending", mock.Anything, mock.Anything, 10).Return(nil, errors.New("db down")).Once()

	worker := NewOutboxWorker(store, NewDispatcher(store, bus, nil, zap.NewNop()), time.Second, time.Minute, 10, zap.NewNop())
	worker.ProcessBatch(context.Background())

	store.AssertExpectations(t)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

// Verificación estática de que los mocks cumplen las interfaces.
var _ domain.EventLogStore = (*mocks.MockEventLogStore)(nil)
var _ sharedBus.EventBus = (*mocks.MockEventBus)(nil)

func TestDispatcher_StateMachineOnInMemoryOutbox(t *testing.T) {
	store := mocks.NewInMemoryEventLogStore()
	bus := new(mocks.MockEventBus)
	d := NewDispatcher(store, bus, nil, zap.NewNop())
	ctx := context.Background()

	tx := &persistence.Transaction{ID: uuid.New()}
	broken := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR")
	healthy := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 20, "EUR")
	require.NoError(t, store.SaveEvent(ctx, broken, tx))
	require.NoError(t, store.SaveEvent(ctx, healthy, tx))

	brokerDown := errors.New("broker down")
	bus.On("Publish", mock.Anything, broken).Return(brokerDown).Once()
	bus.On("Publish", mock.Anything, healthy).Return(nil).Once()

	assert.ErrorIs(t, d.PublishThroughEventBus(ctx, tx.ID), brokerDown)

	failed, _ := store.Entry(broken.ID)
	assert.Equal(t, domain.PublishedFailed, failed.State)
	assert.Equal(t, 1, failed.TimesSent)
	done, _ := store.Entry(healthy.ID)
	assert.Equal(t, domain.Published, done.State)

	// un evento publicado no vuelve a enviarse
	assert.ErrorIs(t, store.MarkInProgress(ctx, healthy.ID), domain.ErrInvalidStateTransition)
	assert.ErrorIs(t, store.MarkFailed(ctx, healthy.ID), domain.ErrInvalidStateTransition)
	assert.ErrorIs(t, store.MarkPublished(ctx, uuid.New()), domain.ErrEventNotFound)

	pending, err := store.RetrievePendingByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	bus.AssertExpectations(t)
}
