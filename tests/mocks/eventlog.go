package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
)

// MockEventLogStore simula el outbox.
type MockEventLogStore struct {
	mock.Mock
}

func (m *MockEventLogStore) SaveEvent(ctx context.Context, evt events.Event, tx *persistence.Transaction) error {
	args := m.Called(ctx, evt, tx)
	return args.Error(0)
}

func (m *MockEventLogStore) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.EventLogEntry, error) {
	args := m.Called(ctx, transactionID)
	entries, _ := args.Get(0).([]domain.EventLogEntry)
	return entries, args.Error(1)
}

func (m *MockEventLogStore) RetrievePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.EventLogEntry, error) {
	args := m.Called(ctx, olderThan, limit)
	entries, _ := args.Get(0).([]domain.EventLogEntry)
	return entries, args.Error(1)
}

func (m *MockEventLogStore) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockEventLogStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return m.Called(ctx, eventID).Error(0)
}

func (m *MockEventLogStore) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return m.Called(ctx, eventID).Error(0)
}

// InMemoryEventLogStore es un outbox en memoria con la misma máquina de estados que los stores SQL.
type InMemoryEventLogStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.EventLogEntry
}

func NewInMemoryEventLogStore() *InMemoryEventLogStore {
	return &InMemoryEventLogStore{entries: make(map[uuid.UUID]*domain.EventLogEntry)}
}

func (s *InMemoryEventLogStore) SaveEvent(_ context.Context, evt events.Event, tx *persistence.Transaction) error {
	if tx == nil {
		return domain.ErrTransactionRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[evt.EventID()] = &domain.EventLogEntry{
		EventID:       evt.EventID(),
		EventTypeName: evt.EventName(),
		State:         domain.NotPublished,
		CreationTime:  evt.EventCreationTime().UTC(),
		TransactionID: tx.ID,
		Event:         evt,
	}
	return nil
}

func (s *InMemoryEventLogStore) RetrievePendingByTransaction(_ context.Context, transactionID uuid.UUID) ([]domain.EventLogEntry, error) {
	return s.pending(func(e *domain.EventLogEntry) bool { return e.TransactionID == transactionID }, 0), nil
}

func (s *InMemoryEventLogStore) RetrievePending(_ context.Context, olderThan time.Time, limit int) ([]domain.EventLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.pending(func(e *domain.EventLogEntry) bool { return e.CreationTime.Before(olderThan) }, limit), nil
}

func (s *InMemoryEventLogStore) pending(match func(*domain.EventLogEntry) bool, limit int) []domain.EventLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.EventLogEntry
	for _, e := range s.entries {
		if e.State == domain.NotPublished && match(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreationTime.Equal(out[j].CreationTime) {
			return out[i].EventID.String() < out[j].EventID.String()
		}
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *InMemoryEventLogStore) MarkInProgress(_ context.Context, eventID uuid.UUID) error {
	return s.transition(eventID, domain.InProgress)
}

func (s *InMemoryEventLogStore) MarkPublished(_ context.Context, eventID uuid.UUID) error {
	return s.transition(eventID, domain.Published)
}

func (s *InMemoryEventLogStore) MarkFailed(_ context.Context, eventID uuid.UUID) error {
	return s.transition(eventID, domain.PublishedFailed)
}

func (s *InMemoryEventLogStore) transition(eventID uuid.UUID, target domain.EventState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrEventNotFound, eventID)
	}
	if !e.State.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s for %s", domain.ErrInvalidStateTransition, e.State, target, eventID)
	}
	e.State = target
	if target == domain.InProgress {
		e.TimesSent++
	}
	return nil
}

// Entry devuelve una copia de la fila guardada.
func (s *InMemoryEventLogStore) Entry(eventID uuid.UUID) (domain.EventLogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[eventID]
	if !ok {
		return domain.EventLogEntry{}, false
	}
	return *e, true
}

var _ domain.EventLogStore = (*InMemoryEventLogStore)(nil)

// MockEventBus simula un bus de eventos
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, evt events.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// MockDispatcher simula el paso de publicación tras el commit.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) PublishThroughEventBus(ctx context.Context, transactionID uuid.UUID) error {
	return m.Called(ctx, transactionID).Error(0)
}
