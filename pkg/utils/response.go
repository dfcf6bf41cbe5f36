package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse es el cuerpo de error común a toda la API.
type ErrorResponse struct {
	Message string `json:"message"`
}

// PageMeta acompaña a los listados paginados.
type PageMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// SendSuccess envuelve data en {"data": ...}.
func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"data": data,
	})
}

// SendPage responde 200 con la página y sus metadatos.
func SendPage[T any](c *gin.Context, items []T, limit, offset int) {
	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"page": PageMeta{Limit: limit, Offset: offset, Count: len(items)},
	})
}

// SendError envía {"error": {"message": ...}} con el código indicado.
func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error": ErrorResponse{
			Message: message,
		},
	})
}

// --- Atajos ---

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func SendConflict(c *gin.Context, message string) {
	SendError(c, http.StatusConflict, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}
