package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterOrderRoutes(r *gin.Engine, handler *OrderHandler) {
	orders := r.Group("/orders")
	{
		orders.POST("", handler.CreateOrder)
		orders.GET("", handler.ListOrders)
		orders.GET("/:id", handler.GetOrder)
		orders.GET("/:id/projection", handler.GetProjection)
		orders.PATCH("/:id/status", handler.ChangeStatus)
	}
}

// RegisterOpsRoutes expone /health y /metrics del gatherer indicado.
func RegisterOpsRoutes(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
