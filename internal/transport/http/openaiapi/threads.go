package openaiapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/domain"
)

// CreateThread creates a thread backed by a fresh session.
// POST /v1/threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	thread, err := h.service.CreateThread(c.Request().Context(), auth.FromContext(c), req.Metadata)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// GetThread fetches one thread.
// GET /v1/threads/:thread_id
func (h *Handler) GetThread(c echo.Context) error {
	thread, err := h.service.GetThread(c.Request().Context(), c.Param("thread_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// CreateThreadMessage appends a message to a thread.
// POST /v1/threads/:thread_id/messages
func (h *Handler) CreateThreadMessage(c echo.Context) error {
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.Content == "" {
		return badRequest(c, "content is required", "content")
	}
	if req.Role == "" {
		req.Role = "user"
	}

	message, err := h.service.CreateThreadMessage(c.Request().Context(), c.Param("thread_id"), auth.FromContext(c), req.Role, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, message)
}

// ListThreadMessages projects the thread's history.
// GET /v1/threads/:thread_id/messages
func (h *Handler) ListThreadMessages(c echo.Context) error {
	messages, err := h.service.ListThreadMessages(c.Request().Context(), c.Param("thread_id"), auth.FromContext(c), queryInt(c, "limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	envelope := domain.ListEnvelope{Object: "list", Data: messages}
	if len(messages) > 0 {
		envelope.FirstID = messages[0].ID
		envelope.LastID = messages[len(messages)-1].ID
	}
	return c.JSON(http.StatusOK, envelope)
}

func queryInt(c echo.Context, name string, defaultVal int) int {
	if v := c.QueryParam(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultVal
}
