// Package v1 provides the HTTP handlers for the orchestrator.
package v1

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/scenarios/internal/domain"
	"github.com/xiaot623/gogo/scenarios/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run control
	e.POST("/scenarios/run", h.StartRun)
	e.GET("/scenarios/run/:run_id", h.GetRun)
	e.POST("/scenarios/run/:run_id/rate", h.RateRun)

	// Live streams
	e.GET("/scenarios/run/:run_id/stream", h.StreamEvents)
	e.GET("/scenarios/run/:run_id/ws", h.StreamWebSocket)
	e.GET("/scenarios/run/:run_id/video", h.StreamVideo)

	// Registry and history
	e.GET("/scenarios/runs", h.ListRuns)
	e.DELETE("/scenarios/runs/cleanup", h.Cleanup)
	e.GET("/scenarios/export", h.Export)

	// Catalog
	e.GET("/scenarios", h.ListScenarios)
	e.GET("/scenarios/:name", h.GetScenario)

	e.GET("/health", h.Health)
}

// Health returns health status. Collaborator failures show up in the body as
// a degraded status; the orchestrator itself still answers 200.
func (h *Handler) Health(c echo.Context) error {
	report := h.service.Health(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   report.Status,
		"version":  Version,
		"pipeline": report.Pipeline,
		"database": report.Database,
		"runs":     report.Runs,
	})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
}
