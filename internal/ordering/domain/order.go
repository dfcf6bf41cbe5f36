package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedBus "github.com/davicafu/eventrelay/shared/platform/bus"
)

// OrderStatus es el estado de un pedido.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusShipped   OrderStatus = "shipped"
	StatusCancelled OrderStatus = "cancelled"
)

// ---------- Errores de dominio ----------
var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderAlreadyExists      = errors.New("order already exists")
	ErrInvalidOrder            = errors.New("invalid order")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrProjectionNotFound      = errors.New("order projection not found")
	ErrConcurrentUpdate        = errors.New("order was modified concurrently")
)

// transiciones permitidas; shipped y cancelled son terminales
var transitions = map[OrderStatus][]OrderStatus{
	StatusPending: {StatusPaid, StatusCancelled},
	StatusPaid:    {StatusShipped, StatusCancelled},
}

// ParseStatus valida un estado recibido desde fuera.
func ParseStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusPaid, StatusShipped, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Order representa un pedido. Total va en céntimos.
type Order struct {
	ID         uuid.UUID   `json:"id"`
	CustomerID uuid.UUID   `json:"customer_id"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewOrder crea un pedido pendiente.
func NewOrder(customerID uuid.UUID, total int64, currency string) (*Order, error) {
	if customerID == uuid.Nil {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidOrder)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidOrder)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidOrder)
	}

	now := time.Now().UTC()
	return &Order{
		ID:         uuid.New(),
		CustomerID: customerID,
		Total:      total,
		Currency:   currency,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CanTransitionTo indica si el pedido puede pasar a next.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[o.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ChangeStatus aplica la transición y devuelve el estado anterior.
func (o *Order) ChangeStatus(next OrderStatus, at time.Time) (OrderStatus, error) {
	if !o.CanTransitionTo(next) {
		return o.Status, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, next)
	}
	old := o.Status
	o.Status = next
	o.UpdatedAt = at.UTC()
	return old, nil
}

func (o *Order) PartitionKey() string {
	return o.ID.String()
}

// OrderProjection es el read-model que mantienen los handlers de eventos.
type OrderProjection struct {
	OrderID     uuid.UUID   `json:"order_id"`
	CustomerID  uuid.UUID   `json:"customer_id,omitempty"`
	Total       int64       `json:"total"`
	Currency    string      `json:"currency,omitempty"`
	Status      OrderStatus `json:"status"`
	LastEventID uuid.UUID   `json:"last_event_id"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OrderAnalyticsRecord es una fila del log analítico.
type OrderAnalyticsRecord struct {
	EventID    uuid.UUID
	EventName  string
	OrderID    uuid.UUID
	CustomerID uuid.UUID
	Total      int64
	Currency   string
	Status     OrderStatus
	EventTime  time.Time
}

// DailyRevenue agrega los pedidos creados por día y divisa.
type DailyRevenue struct {
	Day      time.Time `json:"day"`
	Currency string    `json:"currency"`
	Orders   uint64    `json:"orders"`
	Revenue  int64     `json:"revenue"`
}

func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("order:id:%s", id.String())
}

func ProjectionKey(id uuid.UUID) string {
	return fmt.Sprintf("order:projection:%s", id.String())
}

// Verificación estática para asegurar que Order implementa la interfaz
var _ sharedBus.Keyer = (*Order)(nil)
