package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/eventrelay/internal/infra/cache"
	"github.com/davicafu/eventrelay/internal/ordering/domain"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/events"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/shared/platform/query"
	"github.com/davicafu/eventrelay/shared/utils"
)

// TTL en segundos de la entrada de caché de un pedido.
const orderCacheTTL = 60

// EventDispatcher publica los eventos que dejó una transacción confirmada.
type EventDispatcher interface {
	PublishThroughEventBus(ctx context.Context, transactionID uuid.UUID) error
}

// OrderService define los casos de uso de pedidos. Cada escritura guarda el pedido
// y su evento de integración en la misma transacción y después los publica.
type OrderService struct {
	repo       domain.OrderRepository
	eventLog   sharedDomain.EventLogStore
	tx         persistence.TxExecutor
	dispatcher EventDispatcher
	cache      cache.Cache
	log        *zap.Logger
	readPolicy utils.RetryPolicy
	now        func() time.Time
}

func NewOrderService(
	repo domain.OrderRepository,
	eventLog sharedDomain.EventLogStore,
	tx persistence.TxExecutor,
	dispatcher EventDispatcher,
	cache cache.Cache,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		repo:       repo,
		eventLog:   eventLog,
		tx:         tx,
		dispatcher: dispatcher,
		cache:      cache,
		log:        log,
		readPolicy: utils.RetryPolicy{Retries: 2, BaseDelay: 100 * time.Millisecond},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, customerID uuid.UUID, total int64, currency string) (*domain.Order, error) {
	order, err := domain.NewOrder(customerID, total, currency)
	if err != nil {
		return nil, err
	}

	var txID uuid.UUID
	err = s.tx.Execute(ctx, func(ctx context.Context, tx *persistence.Transaction) error {
		txID = tx.ID
		if err := s.repo.Create(ctx, tx, order); err != nil {
			return err
		}
		evt := events.NewOrderCreatedEvent(order.ID, order.CustomerID, order.Total, order.Currency)
		return s.eventLog.SaveEvent(ctx, evt, tx)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, txID)
	cache.AsyncCacheSet(s.cache, domain.CacheKeyByID(order.ID), order, orderCacheTTL, s.log)
	return order, nil
}

// ChangeStatus aplica la transición y emite OrderStatusChangedEvent.
func (s *OrderService) ChangeStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		txID    uuid.UUID
		updated domain.Order
	)
	err = s.tx.Execute(ctx, func(ctx context.Context, tx *persistence.Transaction) error {
		txID = tx.ID
		// copia por intento: un reintento parte siempre del estado leído
		updated = *current
		old, err := updated.ChangeStatus(next, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, &updated, old); err != nil {
			return err
		}
		evt := events.NewOrderStatusChangedEvent(updated.ID, string(old), string(updated.Status))
		return s.eventLog.SaveEvent(ctx, evt, tx)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, txID)
	cache.AsyncCacheDelete(s.cache, domain.CacheKeyByID(id), s.log)
	return &updated, nil
}

// GetOrder obtiene un pedido (primero intenta desde cache).
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if s.cache != nil {
		var o domain.Order
		if ok, _ := s.cache.Get(ctx, domain.CacheKeyByID(id), &o); ok {
			return &o, nil
		}
	}

	var order *domain.Order
	err := utils.RetryWithPolicy(ctx, s.readPolicy, func(int) error {
		var err error
		order, err = s.repo.GetByID(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return utils.Transient(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	cache.AsyncCacheSet(s.cache, domain.CacheKeyByID(order.ID), order, orderCacheTTL, s.log)
	return order, nil
}

// ListOrders devuelve pedidos filtrados. Lee siempre de la base de datos.
func (s *OrderService) ListOrders(ctx context.Context, criteria sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*domain.Order, error) {
	sort, err := domain.ValidateSort(sort)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, criteria, page.Normalize(), sort)
}

// GetProjection devuelve el read-model que construyen los handlers de eventos.
func (s *OrderService) GetProjection(ctx context.Context, id uuid.UUID) (*domain.OrderProjection, error) {
	if s.cache == nil {
		return nil, domain.ErrProjectionNotFound
	}
	p, err := cache.GetTyped[domain.OrderProjection](ctx, s.cache, domain.ProjectionKey(id))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, domain.ErrProjectionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// publish no devuelve error: el pedido ya está confirmado y el outbox conserva la fila.
func (s *OrderService) publish(ctx context.Context, txID uuid.UUID) {
	if err := s.dispatcher.PublishThroughEventBus(ctx, txID); err != nil {
		s.log.Warn("⚠️ Publicación diferida al barrido del outbox",
			zap.String("transaction_id", txID.String()),
			zap.Error(err),
		)
	}
}
