package events

import (
	"github.com/google/uuid"
)

// Nombres de evento. Son parte del contrato de cable: no renombrar.
const (
	OrderCreatedName       = "OrderCreatedEvent"
	OrderStatusChangedName = "OrderStatusChangedEvent"
)

type OrderCreatedEvent struct {
	IntegrationEvent
	OrderID    uuid.UUID `json:"orderId"`
	CustomerID uuid.UUID `json:"customerId"`
	Total      int64     `json:"total"` // en céntimos
	Currency   string    `json:"currency"`
}

func NewOrderCreatedEvent(orderID, customerID uuid.UUID, total int64, currency string) *OrderCreatedEvent {
	return &OrderCreatedEvent{
		IntegrationEvent: NewIntegrationEvent(),
		OrderID:          orderID,
		CustomerID:       customerID,
		Total:            total,
		Currency:         currency,
	}
}

func (*OrderCreatedEvent) EventName() string { return OrderCreatedName }

func (e *OrderCreatedEvent) PartitionKey() string { return e.OrderID.String() }

type OrderStatusChangedEvent struct {
	IntegrationEvent
	OrderID   uuid.UUID `json:"orderId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
}

func NewOrderStatusChangedEvent(orderID uuid.UUID, oldStatus, newStatus string) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		IntegrationEvent: NewIntegrationEvent(),
		OrderID:          orderID,
		OldStatus:        oldStatus,
		NewStatus:        newStatus,
	}
}

func (*OrderStatusChangedEvent) EventName() string { return OrderStatusChangedName }

func (e *OrderStatusChangedEvent) PartitionKey() string { return e.OrderID.String() }

// Verificación estática
var (
	_ Event = (*OrderCreatedEvent)(nil)
	_ Event = (*OrderStatusChangedEvent)(nil)
)
