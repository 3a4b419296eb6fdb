package openaiapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tyin88/agentgw/internal/domain"
)

// ChatCompletionRequest is the OpenAI chat request body.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatMessage is one chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"` // "chat.completion"
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatUsage mirrors OpenAI usage accounting.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streaming frame.
type ChatCompletionChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"` // "chat.completion.chunk"
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatCompletions handles chat completion requests.
// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body", "")
	}
	if req.Model == "" {
		return badRequest(c, "model is required", "model")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages is required", "messages")
	}

	// The trailing user message is the prompt; everything before is history.
	prompt := req.Messages[len(req.Messages)-1].Content
	history := make([]domain.Message, 0, len(req.Messages)-1)
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		history = append(history, domain.Message{Role: msg.Role, Content: msg.Content})
	}

	completionID := "chatcmpl_" + uuid.New().String()[:8]
	created := time.Now().Unix()

	if req.Stream {
		return h.streamChatCompletion(c, &req, completionID, created, history, prompt)
	}

	text, usage, err := h.service.ChatCompletion(c.Request().Context(), req.Model, history, prompt, nil)
	if err != nil {
		return writeError(c, err)
	}

	resp := ChatCompletionResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      &ChatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
	}
	if usage != nil {
		resp.Usage = &ChatUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// streamChatCompletion writes OpenAI-style "data:" chunks terminated by
// [DONE]. Chat streaming uses bare data lines, not named SSE events.
func (h *Handler) streamChatCompletion(c echo.Context, req *ChatCompletionRequest, completionID string, created int64, history []domain.Message, prompt string) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, _ := c.Response().Writer.(http.Flusher)
	writeChunk := func(chunk ChatCompletionChunk) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	_, _, err := h.service.ChatCompletion(c.Request().Context(), req.Model, history, prompt, func(text string) error {
		return writeChunk(ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatMessage{Role: "assistant", Content: text}}},
		})
	})
	if err != nil {
		// The stream is already open; surface the failure as a final
		// chunk so the client sees a deterministic close.
		_ = writeChunk(ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []ChatChoice{{Index: 0, FinishReason: "error"}},
		})
	} else {
		_ = writeChunk(ChatCompletionChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []ChatChoice{{Index: 0, Delta: &ChatMessage{}, FinishReason: "stop"}},
		})
	}

	fmt.Fprint(c.Response(), "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

// ListModels returns the advertised model catalog.
// GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.ListEnvelope{
		Object: "list",
		Data:   h.service.ListModels(),
	})
}

// GetModel returns one model.
// GET /v1/models/:model_id
func (h *Handler) GetModel(c echo.Context) error {
	model, err := h.service.GetModel(c.Param("model_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, model)
}
