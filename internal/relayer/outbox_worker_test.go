package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/tests/mocks"
)

func TestOutboxWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orphan := pendingEntry(uuid.New())

	// Configurar expectativas del mock
	store.On("RetrievePending", mock.Anything, now.Add(-30*time.Second), 10).Return([]domain.EventLogEntry{orphan}, nil).Once()
	store.On("MarkInProgress", mock.Anything, orphan.EventID).Return(nil).Once()
	store.On("MarkPublished", mock.Anything, orphan.EventID).Return(nil).Once()
	bus.On("Publish", mock.Anything, orphan.Event).Return(nil).Once()

	dispatcher := NewDispatcher(store, bus, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	worker := NewOutboxWorker(store, dispatcher, 10*time.Millisecond, 30*time.Second, 10, zap.NewNop())
	worker.now = func() time.Time { return now }

	worker.ProcessBatch(ctx)

	store.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestOutboxWorker_StoreErrorSkipsBatch(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	bus := new(mocks.MockEventBus)

	store.On("RetrievePending", mock.Anything, mock.AnythingOfType("time.Time"), 5).
		Return([]domain.EventLogEntry(nil), errors.New("db down")).Once()

	dispatcher := NewDispatcher(store, bus, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	worker := NewOutboxWorker(store, dispatcher, time.Second, time.Second, 5, zap.NewNop())

	worker.ProcessBatch(context.Background())

	store.AssertExpectations(t)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOutboxWorker_StopEndsLoop(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	ticked := make(chan struct{}, 1)
	store.On("RetrievePending", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case ticked <- struct{}{}:
			default:
			}
		}).
		Return([]domain.EventLogEntry(nil), nil)

	dispatcher := NewDispatcher(store, new(mocks.MockEventBus), NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	worker := NewOutboxWorker(store, dispatcher, 5*time.Millisecond, 0, 10, zap.NewNop())

	worker.Start(context.Background())
	worker.Start(context.Background())

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("worker never polled the store")
	}

	done := make(chan struct{})
	go func() {
		worker.Stop()
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestOutboxWorker_StopBeforeLoopIsScheduled(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	dispatcher := NewDispatcher(store, new(mocks.MockEventBus), nil, zap.NewNop())

	for i := 0; i < 50; i++ {
		worker := NewOutboxWorker(store, dispatcher, time.Hour, 0, 10, zap.NewNop())
		worker.Start(context.Background())
		worker.Stop()
	}

	// Start tras Stop no arranca nada
	late := NewOutboxWorker(store, dispatcher, time.Millisecond, 0, 10, zap.NewNop())
	late.Stop()
	late.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	store.AssertNotCalled(t, "RetrievePending", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxWorker_ContextCancelEndsLoop(t *testing.T) {
	store := new(mocks.MockEventLogStore)
	store.On("RetrievePending", mock.Anything, mock.Anything, mock.Anything).Return([]domain.EventLogEntry(nil), nil).Maybe()
	worker := NewOutboxWorker(store, NewDispatcher(store, new(mocks.MockEventBus), nil, zap.NewNop()),
		time.Millisecond, 0, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
