package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/eventrelay/internal/ordering/application"
	"github.com/davicafu/eventrelay/internal/ordering/domain"
	"github.com/davicafu/eventrelay/pkg/utils"
	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/platform/query"
)

// OrderHandler encapsula los endpoints HTTP de pedidos.
type OrderHandler struct {
	service *application.OrderService
}

func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

// ---------------- Handlers ----------------

// CreateOrder endpoint POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req struct {
		CustomerID string `json:"customer_id" binding:"required,uuid"`
		Total      int64  `json:"total" binding:"required,gt=0"` // céntimos
		Currency   string `json:"currency" binding:"required,len=3"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), uuid.MustParse(req.CustomerID), req.Total, req.Currency)
	if err != nil {
		sendOrderError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusCreated, order)
}

// GetOrder endpoint GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		sendOrderError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// listQuery son los filtros de GET /orders. Los punteros distinguen "no enviado" de cero.
type listQuery struct {
	Status     string `form:"status"`
	CustomerID string `form:"customer_id" binding:"omitempty,uuid"`
	MinTotal   *int64 `form:"min_total" binding:"omitempty,gte=0"`
	MaxTotal   *int64 `form:"max_total" binding:"omitempty,gte=0"`
	SortField  string `form:"sort_field"`
	SortDesc   bool   `form:"sort_desc"`
	Limit      int    `form:"limit" binding:"omitempty,gte=0"`
	Offset     int    `form:"offset" binding:"omitempty,gte=0"`
}

// ListOrders endpoint GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	// --- Filtros desde query params ---
	var criterias []sharedDomain.Criteria
	if q.Status != "" {
		status, err := domain.ParseStatus(q.Status)
		if err != nil {
			utils.SendBadRequest(c, err.Error())
			return
		}
		criterias = append(criterias, domain.StatusCriteria{Status: status})
	}
	if q.CustomerID != "" {
		criterias = append(criterias, domain.CustomerCriteria{CustomerID: uuid.MustParse(q.CustomerID)})
	}
	if q.MinTotal != nil || q.MaxTotal != nil {
		criterias = append(criterias, domain.TotalRangeCriteria{Min: q.MinTotal, Max: q.MaxTotal})
	}

	page := query.OffsetPagination{Limit: q.Limit, Offset: q.Offset}.Normalize()
	orders, err := h.service.ListOrders(c.Request.Context(),
		sharedDomain.And(criterias...),
		page,
		query.Sort{Field: q.SortField, Desc: q.SortDesc},
	)
	if err != nil {
		sendOrderError(c, err)
		return
	}
	utils.SendPage(c, orders, page.Limit, page.Offset)
}

// GetProjection endpoint GET /orders/:id/projection
func (h *OrderHandler) GetProjection(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	p, err := h.service.GetProjection(c.Request.Context(), id)
	if err != nil {
		sendOrderError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, p)
}

// ChangeStatus endpoint PATCH /orders/:id/status
func (h *OrderHandler) ChangeStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	next, err := domain.ParseStatus(req.Status)
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	order, err := h.service.ChangeStatus(c.Request.Context(), id, next)
	if err != nil {
		sendOrderError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

// sendOrderError traduce errores de dominio a códigos HTTP.
func sendOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		utils.SendNotFound(c, "order not found")
	case errors.Is(err, domain.ErrProjectionNotFound):
		utils.SendNotFound(c, "order projection not found")
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidStatus):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrInvalidStatusTransition), errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrOrderAlreadyExists):
		utils.SendConflict(c, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}
