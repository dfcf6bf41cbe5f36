package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/eventbus"
	"github.com/davicafu/eventrelay/internal/infra/cache"
	"github.com/davicafu/eventrelay/internal/ordering/domain"
	sharedEvents "github.com/davicafu/eventrelay/shared/events"
	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

// Nombre con el que el inbox recuerda los eventos ya proyectados.
const ProjectionHandlerName = "ordering.projection"

// OrderProjectionHandler mantiene en caché el read-model de cada pedido.
type OrderProjectionHandler struct {
	cache   cache.Cache
	ttlSecs int
	log     *zap.Logger
}

func NewOrderProjectionHandler(c cache.Cache, ttlSecs int, log *zap.Logger) *OrderProjectionHandler {
	return &OrderProjectionHandler{cache: c, ttlSecs: ttlSecs, log: log}
}

func (h *OrderProjectionHandler) Handle(ctx context.Context, evt sharedEvents.Event) error {
	switch e := evt.(type) {
	case *sharedEvents.OrderCreatedEvent:
		return h.onCreated(ctx, e)
	case *sharedEvents.OrderStatusChangedEvent:
		return h.onStatusChanged(ctx, e)
	default:
		return fmt.Errorf("projection handler does not support %s", evt.EventName())
	}
}

func (h *OrderProjectionHandler) onCreated(ctx context.Context, e *sharedEvents.OrderCreatedEvent) error {
	var current domain.OrderProjection
	found, err := h.cache.Get(ctx, domain.ProjectionKey(e.OrderID), &current)
	if err != nil {
		return fmt.Errorf("read projection %s: %w", e.OrderID, err)
	}

	p := domain.OrderProjection{
		OrderID:     e.OrderID,
		CustomerID:  e.CustomerID,
		Total:       e.Total,
		Currency:    e.Currency,
		Status:      domain.StatusPending,
		LastEventID: e.ID,
		UpdatedAt:   e.CreationTime,
	}
	// un cambio de estado llegó antes que la creación: se conserva su estado
	if found && current.UpdatedAt.After(e.CreationTime) {
		p.Status = current.Status
		p.LastEventID = current.LastEventID
		p.UpdatedAt = current.UpdatedAt
	}
	return h.save(ctx, p)
}

func (h *OrderProjectionHandler) onStatusChanged(ctx context.Context, e *sharedEvents.OrderStatusChangedEvent) error {
	var p domain.OrderProjection
	found, err := h.cache.Get(ctx, domain.ProjectionKey(e.OrderID), &p)
	if err != nil {
		return fmt.Errorf("read projection %s: %w", e.OrderID, err)
	}
	if found && p.UpdatedAt.After(e.CreationTime) {
		h.log.Info("Evento de estado obsoleto ignorado",
			zap.String("order_id", e.OrderID.String()),
			zap.String("event_id", e.ID.String()),
		)
		return nil
	}

	p.OrderID = e.OrderID
	p.Status = domain.OrderStatus(e.NewStatus)
	p.LastEventID = e.ID
	p.UpdatedAt = e.CreationTime
	return h.save(ctx, p)
}

func (h *OrderProjectionHandler) save(ctx context.Context, p domain.OrderProjection) error {
	if err := h.cache.Set(ctx, domain.ProjectionKey(p.OrderID), p, h.ttlSecs); err != nil {
		return fmt.Errorf("write projection %s: %w", p.OrderID, err)
	}
	h.log.Debug("Proyección de pedido actualizada",
		zap.String("order_id", p.OrderID.String()),
		zap.String("status", string(p.Status)),
	)
	return nil
}

// OrderAnalyticsHandler registra cada pedido creado en el sumidero analítico.
type OrderAnalyticsHandler struct {
	repo domain.OrderAnalyticsRepository
	log  *zap.Logger
}

func NewOrderAnalyticsHandler(repo domain.OrderAnalyticsRepository, log *zap.Logger) *OrderAnalyticsHandler {
	return &OrderAnalyticsHandler{repo: repo, log: log}
}

func (h *OrderAnalyticsHandler) Handle(ctx context.Context, e *sharedEvents.OrderCreatedEvent) error {
	record := domain.OrderAnalyticsRecord{
		EventID:    e.ID,
		EventName:  e.EventName(),
		OrderID:    e.OrderID,
		CustomerID: e.CustomerID,
		Total:      e.Total,
		Currency:   e.Currency,
		Status:     domain.StatusPending,
		EventTime:  e.CreationTime,
	}
	if err := h.repo.LogBatch(ctx, []domain.OrderAnalyticsRecord{record}); err != nil {
		return fmt.Errorf("log order %s to analytics: %w", e.OrderID, err)
	}
	return nil
}

// RegisterEventTypes da de alta los eventos de pedidos. Lo necesitan tanto el
// outbox, para releer sus filas, como los consumidores.
func RegisterEventTypes(reg *eventbus.SubscriptionRegistry) error {
	if err := reg.RegisterEventType(sharedEvents.OrderCreatedName, func() sharedEvents.Event {
		return &sharedEvents.OrderCreatedEvent{}
	}); err != nil {
		return err
	}
	return reg.RegisterEventType(sharedEvents.OrderStatusChangedName, func() sharedEvents.Event {
		return &sharedEvents.OrderStatusChangedEvent{}
	})
}

// Subscriptions agrupa las dependencias de los handlers de pedidos.
type Subscriptions struct {
	Cache     cache.Cache
	CacheTTL  int
	Inbox     eventbus.Inbox
	Analytics domain.OrderAnalyticsRepository // opcional
	Log       *zap.Logger
}

// Register añade los handlers al registro. Los tipos deben estar ya registrados.
func (s Subscriptions) Register(reg *eventbus.SubscriptionRegistry) error {
	if s.Inbox == nil {
		s.Inbox = eventbus.NewInMemoryInbox()
	}
	projection := eventbus.Idempotent(s.Inbox, ProjectionHandlerName, func() sharedBus.Handler {
		return NewOrderProjectionHandler(s.Cache, s.CacheTTL, s.Log)
	})
	for _, name := range []string{sharedEvents.OrderCreatedName, sharedEvents.OrderStatusChangedName} {
		if err := reg.RegisterHandler(name, projection); err != nil {
			return err
		}
	}

	if s.Analytics == nil {
		s.Log.Warn("⚠️ Analytics no configurado, OrderCreatedEvent solo se proyecta")
		return nil
	}
	return eventbus.AddSubscription(reg,
		func() *sharedEvents.OrderCreatedEvent { return &sharedEvents.OrderCreatedEvent{} },
		func() eventbus.TypedHandler[*sharedEvents.OrderCreatedEvent] {
			return NewOrderAnalyticsHandler(s.Analytics, s.Log)
		},
	)
}
