package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/domain"
)

// ListSessions pages the caller's sessions.
// GET /api/v1/sessions?page&page_size&status
func (h *Handler) ListSessions(c echo.Context) error {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 20)
	filter := domain.SessionFilter{Status: domain.SessionStatus(c.QueryParam("status"))}

	sessions, total, err := h.service.ListSessions(c.Request().Context(), auth.FromContext(c), page, pageSize, filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions":  sessions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CreateSession starts a fresh session.
// POST /api/v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}
	session, err := h.service.CreateSession(c.Request().Context(), auth.FromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetSession returns session detail.
// GET /api/v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages returns a session's message history.
// GET /api/v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	before := c.QueryParam("before")

	messages, err := h.service.GetSessionMessages(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), limit, before)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

func queryInt(c echo.Context, name string, defaultVal int) int {
	if v := c.QueryParam(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultVal
}
