// Package openaiapi provides the OpenAI-compatible HTTP surface under /v1.
package openaiapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/config"
	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/service"
)

// Handler handles OpenAI-compatible requests.
type Handler struct {
	service *service.Service
	config  *config.Config
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, cfg *config.Config) *Handler {
	return &Handler{service: svc, config: cfg}
}

// RegisterRoutes registers OpenAI-compatible routes on an authenticated group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/chat/completions", h.ChatCompletions)
	g.GET("/models", h.ListModels)
	g.GET("/models/:model_id", h.GetModel)

	g.POST("/assistants", h.CreateAssistant)
	g.GET("/assistants", h.ListAssistants)
	g.GET("/assistants/:assistant_id", h.GetAssistant)
	g.POST("/assistants/:assistant_id", h.ModifyAssistant)
	g.DELETE("/assistants/:assistant_id", h.DeleteAssistant)

	g.POST("/threads", h.CreateThread)
	g.GET("/threads/:thread_id", h.GetThread)
	g.POST("/threads/:thread_id/messages", h.CreateThreadMessage)
	g.GET("/threads/:thread_id/messages", h.ListThreadMessages)

	g.POST("/threads/:thread_id/runs", h.CreateRun)
	g.GET("/threads/:thread_id/runs", h.ListRuns)
	g.GET("/threads/:thread_id/runs/:run_id", h.GetRun)
	g.GET("/threads/:thread_id/runs/:run_id/steps", h.ListRunSteps)
	g.POST("/threads/:thread_id/runs/:run_id/cancel", h.CancelRun)
	g.POST("/threads/:thread_id/runs/:run_id/submit_tool_outputs", h.SubmitToolOutputs)
}

// APIError is the OpenAI error payload.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse wraps an APIError.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// writeError maps taxonomy errors to the OpenAI envelope. Validation
// failures are 400 here, unlike the native surface's 422.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	errType := "api_error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		errType = "invalid_request_error"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidCheckpoint):
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		errType = "invalid_request_error"
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAgentExecution):
		status = http.StatusBadGateway
	}
	return c.JSON(status, ErrorResponse{Error: &APIError{
		Message: err.Error(),
		Type:    errType,
		Code:    domain.ErrorCode(err),
	}})
}

func badRequest(c echo.Context, message, param string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: &APIError{
		Message: message,
		Type:    "invalid_request_error",
		Param:   param,
	}})
}
