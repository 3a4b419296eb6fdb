package openaiapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/domain"
)

// assistantRequest is the create/modify body.
type assistantRequest struct {
	Model        string                 `json:"model"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Instructions string                 `json:"instructions"`
	Tools        []domain.AssistantTool `json:"tools"`
	Metadata     map[string]string      `json:"metadata"`
	Temperature  *float64               `json:"temperature"`
	TopP         *float64               `json:"top_p"`
}

// CreateAssistant creates an assistant.
// POST /v1/assistants
func (h *Handler) CreateAssistant(c echo.Context) error {
	var req assistantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.Model == "" {
		return badRequest(c, "model is required", "model")
	}

	assistant, err := h.service.CreateAssistant(c.Request().Context(), auth.FromContext(c), &domain.Assistant{
		Model:        req.Model,
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		Tools:        req.Tools,
		Metadata:     req.Metadata,
		Temperature:  req.Temperature,
		TopP:         req.TopP,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// ListAssistants lists the caller's assistants.
// GET /v1/assistants
func (h *Handler) ListAssistants(c echo.Context) error {
	assistants, err := h.service.ListAssistants(c.Request().Context(), auth.FromContext(c), queryInt(c, "limit", 20))
	if err != nil {
		return writeError(c, err)
	}
	envelope := domain.ListEnvelope{Object: "list", Data: assistants}
	if len(assistants) > 0 {
		envelope.FirstID = assistants[0].ID
		envelope.LastID = assistants[len(assistants)-1].ID
	}
	return c.JSON(http.StatusOK, envelope)
}

// GetAssistant fetches one assistant.
// GET /v1/assistants/:assistant_id
func (h *Handler) GetAssistant(c echo.Context) error {
	assistant, err := h.service.GetAssistant(c.Request().Context(), c.Param("assistant_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// ModifyAssistant applies a partial update.
// POST /v1/assistants/:assistant_id
func (h *Handler) ModifyAssistant(c echo.Context) error {
	var req assistantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}

	assistant, err := h.service.UpdateAssistant(c.Request().Context(), c.Param("assistant_id"), auth.FromContext(c), func(a *domain.Assistant) {
		if req.Model != "" {
			a.Model = req.Model
		}
		if req.Name != "" {
			a.Name = req.Name
		}
		if req.Description != "" {
			a.Description = req.Description
		}
		if req.Instructions != "" {
			a.Instructions = req.Instructions
		}
		if req.Tools != nil {
			a.Tools = req.Tools
		}
		if req.Metadata != nil {
			a.Metadata = req.Metadata
		}
		if req.Temperature != nil {
			a.Temperature = req.Temperature
		}
		if req.TopP != nil {
			a.TopP = req.TopP
		}
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, assistant)
}

// DeleteAssistant removes an assistant.
// DELETE /v1/assistants/:assistant_id
func (h *Handler) DeleteAssistant(c echo.Context) error {
	assistantID := c.Param("assistant_id")
	if err := h.service.DeleteAssistant(c.Request().Context(), assistantID, auth.FromContext(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":      assistantID,
		"object":  "assistant.deleted",
		"deleted": true,
	})
}
