// Package http provides the HTTP server wiring for the gateway.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/service"
	"github.com/tyin88/agentgw/internal/transport/http/api"
	"github.com/tyin88/agentgw/internal/transport/http/openaiapi"
)

// NewServer creates and configures the gateway HTTP server. Both route
// families resolve the caller's tenant through the auth middleware; only
// /health is open.
func NewServer(svc *service.Service, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": "0.1.0",
		})
	})

	// Handlers
	apiHandler := api.NewHandler(svc, cfg)
	openaiHandler := openaiapi.NewHandler(svc, cfg)

	// Register routes
	native := e.Group("/api/v1", auth.Middleware())
	apiHandler.RegisterRoutes(native)

	openai := e.Group("/v1", auth.Middleware())
	openaiHandler.RegisterRoutes(openai)

	return e
}
