// Package api provides the native session HTTP surface under /api/v1.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/service"
)

// Handler handles native API requests.
type Handler struct {
	service *service.Service
	config  *config.Config
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{service: svc, config: cfg}
}

// RegisterRoutes registers the native routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions", h.ListSessions)
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:session_id", h.GetSession)
	g.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	g.POST("/sessions/:session_id/resume", h.ResumeSession)
	g.POST("/sessions/:session_id/fork", h.ForkSession)
	g.POST("/sessions/:session_id/interrupt", h.InterruptSession)
	g.POST("/sessions/:session_id/control", h.ControlSession)
	g.POST("/sessions/:session_id/answer", h.AnswerSession)
	g.GET("/sessions/:session_id/checkpoints", h.ListCheckpoints)
	g.POST("/sessions/:session_id/rewind", h.RewindSession)
}

// errorBody is the native error envelope.
type errorBody struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// writeError maps a taxonomy error onto the native response contract:
// 404 for absent/cross-tenant, 422 with field paths for validation, 409 for
// conflicts, 400 for invalid checkpoints, 503 for storage outages.
func writeError(c echo.Context, err error) error {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": validationErr.Fields,
		})
	}

	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCheckpoint):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	return c.JSON(status, errorBody{Error: err.Error(), Code: code})
}
