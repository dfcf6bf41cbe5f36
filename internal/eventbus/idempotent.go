package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

// Inbox recuerda qué eventos ha procesado ya cada handler.
type Inbox interface {
	Processed(ctx context.Context, eventID uuid.UUID, handler string) (bool, error)
	MarkProcessed(ctx context.Context, eventID uuid.UUID, handler string) error
}

// Idempotent envuelve una factoría de handlers para que un evento ya procesado
// por handlerName se confirme sin volver a ejecutarse. Solo se registra tras un éxito.
func Idempotent(inbox Inbox, handlerName string, factory HandlerFactory) HandlerFactory {
	return func() sharedBus.Handler {
		inner := factory()
		return sharedBus.HandlerFunc(func(ctx context.Context, evt events.Event) error {
			done, err := inbox.Processed(ctx, evt.EventID(), handlerName)
			if err != nil {
				return fmt.Errorf("inbox lookup: %w", err)
			}
			if done {
				return nil
			}
			if err := inner.Handle(ctx, evt); err != nil {
				return err
			}
			return inbox.MarkProcessed(ctx, evt.EventID(), handlerName)
		})
	}
}

// InMemoryInbox implementa Inbox en memoria; útil en local y en tests.
type InMemoryInbox struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewInMemoryInbox() *InMemoryInbox {
	return &InMemoryInbox{seen: make(map[string]struct{})}
}

func inboxKey(eventID uuid.UUID, handler string) string {
	return handler + ":" + eventID.String()
}

func (i *InMemoryInbox) Processed(_ context.Context, eventID uuid.UUID, handler string) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.seen[inboxKey(eventID, handler)]
	return ok, nil
}

func (i *InMemoryInbox) MarkProcessed(_ context.Context, eventID uuid.UUID, handler string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seen[inboxKey(eventID, handler)] = struct{}{}
	return nil
}

var _ Inbox = (*InMemoryInbox)(nil)
