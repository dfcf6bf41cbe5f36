package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

func recordingFactory(calls *[]string, name string, err error) HandlerFactory {
	return func() sharedBus.Handler {
		return sharedBus.HandlerFunc(func(context.Context, events.Event) error {
			*calls = append(*calls, name)
			return err
		})
	}
}

func newRegistryWithOrderCreated(t *testing.T) *SubscriptionRegistry {
	t.Helper()
	r := NewSubscriptionRegistry(NewSerializer())
	require.NoError(t, r.RegisterEventType(events.OrderCreatedName, func() events.Event { return &events.OrderCreatedEvent{} }))
	return r
}

func TestProcessor_UnknownEventType(t *testing.T) {
	p := NewProcessor(newRegistryWithOrderCreated(t), zap.NewNop())

	err := p.Process(context.Background(), "LegacyInvoiceEvent", []byte(`{}`))

	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.True(t, IsUnretryable(err))
}

func TestProcessor_MalformedBody(t *testing.T) {
	p := NewProcessor(newRegistryWithOrderCreated(t), zap.NewNop())

	err := p.Process(context.Background(), events.OrderCreatedName, []byte(`{"id": 42`))

	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.True(t, IsUnretryable(err))
}

func TestProcessor_RunsEveryHandlerInOrder(t *testing.T) {
	r := newRegistryWithOrderCreated(t)
	var calls []string
	require.NoError(t, r.RegisterHandler(events.OrderCreatedName, recordingFactory(&calls, "A", nil)))
	require.NoError(t, r.RegisterHandler(events.OrderCreatedName, recordingFactory(&calls, "B", nil)))

	body, _ := r.Serializer().Marshal(events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR"))
	err := NewProcessor(r, zap.NewNop()).Process(context.Background(), events.OrderCreatedName, body)

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, calls)
}

func TestProcessor_HandlerFailureIsRetryable(t *testing.T) {
	r := newRegistryWithOrderCreated(t)
	var calls []string
	boom := errors.New("projection store down")
	require.NoError(t, r.RegisterHandler(events.OrderCreatedName, recordingFactory(&calls, "A", nil)))
	require.NoError(t, r.RegisterHandler(events.OrderCreatedName, recordingFactory(&calls, "B", boom)))

	body, _ := r.Serializer().Marshal(events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR"))
	err := NewProcessor(r, zap.NewNop()).Process(context.Background(), events.OrderCreatedName, body)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 1, herr.Index)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsUnretryable(err))
	assert.Equal(t, []string{"A", "B"}, calls)
}

func TestProcessor_KnownTypeWithoutHandlers(t *testing.T) {
	r := newRegistryWithOrderCreated(t)
	body, _ := r.Serializer().Marshal(events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR"))

	assert.NoError(t, NewProcessor(r, zap.NewNop()).Process(context.Background(), events.OrderCreatedName, body))
}

func TestIdempotent_SkipsAlreadyProcessed(t *testing.T) {
	inbox := NewInMemoryInbox()
	var calls []string
	factory := Idempotent(inbox, "projection", recordingFactory(&calls, "projection", nil))

	evt := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR")
	require.NoError(t, factory().Handle(context.Background(), evt))
	require.NoError(t, factory().Handle(context.Background(), evt))

	assert.Equal(t, []string{"projection"}, calls)

	done, err := inbox.Processed(context.Background(), evt.ID, "projection")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestIdempotent_DoesNotRecordFailures(t *testing.T) {
	inbox := NewInMemoryInbox()
	var calls []string
	factory := Idempotent(inbox, "analytics", recordingFactory(&calls, "analytics", errors.New("down")))

	evt := events.NewOrderCreatedEvent(uuid.New(), uuid.New(), 10, "EUR")
	assert.Error(t, factory().Handle(context.Background(), evt))
	assert.Error(t, factory().Handle(context.Background(), evt))

	assert.Len(t, calls, 2)
	done, _ := inbox.Processed(context.Background(), evt.ID, "analytics")
	assert.False(t, done)
}
