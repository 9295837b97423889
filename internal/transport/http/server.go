// Package http provides the HTTP server for the coordination core.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/corale/relay/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. It exposes the
// coordinator invoke surface, the reviewer API, the conversation
// read-side and the metrics endpoint.
func NewServer(coordinator v1.Coordinator, approvals v1.Approvals, reader v1.ConversationReader, metrics prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(coordinator, approvals, reader)

	// Register Routes
	v1Handler.RegisterRoutes(e)

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})))
	}

	return e
}
