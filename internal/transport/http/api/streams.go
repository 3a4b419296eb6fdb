package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/stream"
)

// ResumeSession continues a session and streams its events as SSE.
// POST /api/v1/sessions/:session_id/resume
func (h *Handler) ResumeSession(c echo.Context) error {
	var req domain.ResumeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}

	sink, finish := h.lazySink(c)
	err := h.service.Resume(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), req, sink)
	return finish(err)
}

// ForkSession branches a new session off an existing one and streams the
// new session's events.
// POST /api/v1/sessions/:session_id/fork
func (h *Handler) ForkSession(c echo.Context) error {
	var req domain.ForkRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}

	sink, finish := h.lazySink(c)
	_, err := h.service.Fork(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), req, sink)
	return finish(err)
}

// lazySink defers SSE header emission until the first event so boundary
// failures (validation, ownership, single-flight conflicts) still go out as
// plain JSON. Once any event has been written the stream always ends with
// its own terminal done event, so finish reports nothing further.
func (h *Handler) lazySink(c echo.Context) (func(domain.StreamEvent) error, func(error) error) {
	var w *stream.SSEWriter
	sink := func(ev domain.StreamEvent) error {
		if w == nil {
			w = stream.NewSSEWriter(c, h.config.PingInterval)
		}
		return w.Send(ev)
	}
	finish := func(err error) error {
		if w != nil {
			w.Close()
			return nil
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusOK)
	}
	return sink, finish
}

// InterruptSession flags the session's live stream for cancellation.
// POST /api/v1/sessions/:session_id/interrupt
func (h *Handler) InterruptSession(c echo.Context) error {
	err := h.service.Interrupt(c.Request().Context(), c.Param("session_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "interrupted"})
}

// ControlSession applies a live-session control change.
// POST /api/v1/sessions/:session_id/control
func (h *Handler) ControlSession(c echo.Context) error {
	var req domain.ControlRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}
	err := h.service.Control(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

// AnswerSession resolves the session's pending question event.
// POST /api/v1/sessions/:session_id/answer
func (h *Handler) AnswerSession(c echo.Context) error {
	var req domain.AnswerRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}
	err := h.service.Answer(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

// ListCheckpoints returns the session's checkpoint ledger.
// GET /api/v1/sessions/:session_id/checkpoints
func (h *Handler) ListCheckpoints(c echo.Context) error {
	checkpoints, err := h.service.ListCheckpoints(c.Request().Context(), c.Param("session_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"checkpoints": checkpoints})
}

// RewindSession validates a checkpoint and accepts the rewind.
// POST /api/v1/sessions/:session_id/rewind
func (h *Handler) RewindSession(c echo.Context) error {
	var req domain.RewindRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("invalid request body", "body"))
	}
	if req.CheckpointID == "" {
		return writeError(c, domain.NewValidationError("checkpoint_id is required", "body", "checkpoint_id"))
	}
	checkpoint, err := h.service.Rewind(c.Request().Context(), c.Param("session_id"), auth.FromContext(c), req.CheckpointID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "accepted",
		"checkpoint": checkpoint,
	})
}
