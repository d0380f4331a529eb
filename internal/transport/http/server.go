// Package http provides the HTTP server implementation for the orchestrator.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/service"
	v1 "github.com/xiaot623/gogo/scenarios/internal/transport/http/v1"
)

// NewServer creates and configures the orchestrator's HTTP server.
// This server handles run control, streaming, history export and metrics.
func NewServer(svc *service.Service, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1.NewHandler(svc).RegisterRoutes(e)

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	return e
}
