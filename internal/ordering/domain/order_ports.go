package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/platform/persistence"
	"github.com/davicafu/eventrelay/shared/platform/query"
)

// OrderRepository persiste pedidos. Las escrituras usan la transacción del llamante
// para que el pedido y su evento de integración se confirmen juntos.
type OrderRepository interface {
	Create(ctx context.Context, tx *persistence.Transaction, o *Order) error
	// UpdateStatus persiste o.Status solo si el pedido sigue en from.
	UpdateStatus(ctx context.Context, tx *persistence.Transaction, o *Order, from OrderStatus) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	// List devuelve los pedidos que cumplen criteria; sort ya viene validado.
	List(ctx context.Context, criteria sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*Order, error)
}

// OrderAnalyticsRepository es el sumidero analítico de eventos de pedidos.
type OrderAnalyticsRepository interface {
	LogBatch(ctx context.Context, records []OrderAnalyticsRecord) error
	GetDailyRevenue(ctx context.Context, start, end time.Time) ([]DailyRevenue, error)
}
