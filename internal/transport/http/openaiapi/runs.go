package openaiapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/auth"
	"github.com/tyin88/agentgw/internal/domain"
)

// CreateRun queues a run of an assistant against a thread.
// POST /v1/threads/:thread_id/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req struct {
		AssistantID  string `json:"assistant_id"`
		Model        string `json:"model"`
		Instructions string `json:"instructions"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.AssistantID == "" {
		return badRequest(c, "assistant_id is required", "assistant_id")
	}

	run, err := h.service.CreateRun(c.Request().Context(), c.Param("thread_id"), auth.FromContext(c), req.AssistantID, req.Model, req.Instructions)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns lists a thread's runs.
// GET /v1/threads/:thread_id/runs
func (h *Handler) ListRuns(c echo.Context) error {
	list, err := h.service.ListRuns(c.Request().Context(), c.Param("thread_id"), auth.FromContext(c), queryInt(c, "limit", 20))
	if err != nil {
		return writeError(c, err)
	}
	envelope := domain.ListEnvelope{Object: "list", Data: list}
	if len(list) > 0 {
		envelope.FirstID = list[0].ID
		envelope.LastID = list[len(list)-1].ID
	}
	return c.JSON(http.StatusOK, envelope)
}

// GetRun fetches one run, applying lazy expiry.
// GET /v1/threads/:thread_id/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// ListRunSteps lists a run's steps.
// GET /v1/threads/:thread_id/runs/:run_id/steps
func (h *Handler) ListRunSteps(c echo.Context) error {
	steps, err := h.service.ListRunSteps(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	envelope := domain.ListEnvelope{Object: "list", Data: steps}
	if len(steps) > 0 {
		envelope.FirstID = steps[0].ID
		envelope.LastID = steps[len(steps)-1].ID
	}
	return c.JSON(http.StatusOK, envelope)
}

// CancelRun cancels a non-terminal run.
// POST /v1/threads/:thread_id/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), auth.FromContext(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// SubmitToolOutputs resumes a requires_action run.
// POST /v1/threads/:thread_id/runs/:run_id/submit_tool_outputs
func (h *Handler) SubmitToolOutputs(c echo.Context) error {
	var req struct {
		ToolOutputs []struct {
			ToolCallID string `json:"tool_call_id"`
			Output     string `json:"output"`
		} `json:"tool_outputs"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if len(req.ToolOutputs) == 0 {
		return badRequest(c, "tool_outputs is required", "tool_outputs")
	}

	outputs := make([]domain.RunToolFunction, 0, len(req.ToolOutputs))
	for _, out := range req.ToolOutputs {
		outputs = append(outputs, domain.RunToolFunction{Name: out.ToolCallID, Output: out.Output})
	}

	run, err := h.service.SubmitToolOutputs(c.Request().Context(), c.Param("thread_id"), c.Param("run_id"), auth.FromContext(c), outputs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
