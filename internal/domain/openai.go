package domain

import "encoding/json"

// OpenAI Assistants API projections. These are computed views over sessions;
// the session row stays the single source of truth.

// Assistant is the projection root for the /v1/assistants family.
type Assistant struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"` // "assistant"
	CreatedAt    int64             `json:"created_at"`
	Model        string            `json:"model"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []AssistantTool   `json:"tools"`
	Metadata     map[string]string `json:"metadata"`
	Temperature  *float64          `json:"temperature,omitempty"`
	TopP         *float64          `json:"top_p,omitempty"`
	OwnerHash    string            `json:"-"`
}

// AssistantTool declares one tool on an assistant.
type AssistantTool struct {
	Type     string          `json:"type"` // code_interpreter, file_search, function
	Function json.RawMessage `json:"function,omitempty"`
}

// Thread projects a session as an OpenAI thread.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"` // "thread"
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
	SessionID string            `json:"-"`
}

// ThreadMessage is one message in a thread, with OpenAI content blocks.
type ThreadMessage struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"` // "thread.message"
	CreatedAt   int64             `json:"created_at"`
	ThreadID    string            `json:"thread_id"`
	Role        string            `json:"role"`
	Content     []MessageContent  `json:"content"`
	AssistantID string            `json:"assistant_id,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// MessageContent is one OpenAI-shaped content block.
type MessageContent struct {
	Type string       `json:"type"` // "text"
	Text *MessageText `json:"text,omitempty"`
}

// MessageText is the body of a text content block.
type MessageText struct {
	Value       string        `json:"value"`
	Annotations []interface{} `json:"annotations"`
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"` // "thread.run"
	CreatedAt      int64             `json:"created_at"`
	ThreadID       string            `json:"thread_id"`
	AssistantID    string            `json:"assistant_id"`
	Status         RunStatus         `json:"status"`
	Model          string            `json:"model"`
	Instructions   string            `json:"instructions,omitempty"`
	Tools          []AssistantTool   `json:"tools"`
	Metadata       map[string]string `json:"metadata"`
	RequiredAction *RequiredAction   `json:"required_action,omitempty"`
	LastError      *RunError         `json:"last_error,omitempty"`
	Usage          *RunUsage         `json:"usage,omitempty"`
	ExpiresAt      int64             `json:"expires_at,omitempty"`
	StartedAt      *int64            `json:"started_at,omitempty"`
	CancelledAt    *int64            `json:"cancelled_at,omitempty"`
	FailedAt       *int64            `json:"failed_at,omitempty"`
	CompletedAt    *int64            `json:"completed_at,omitempty"`
	ExpiredAt      *int64            `json:"expired_at,omitempty"`
	SessionID      string            `json:"-"`
}

// RequiredAction is present iff the run status is requires_action.
type RequiredAction struct {
	Type              string             `json:"type"` // "submit_tool_outputs"
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the tool calls awaiting caller outputs.
type SubmitToolOutputs struct {
	ToolCalls []RunToolCall `json:"tool_calls"`
}

// RunToolCall is one pending tool invocation on a run.
type RunToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"` // "function"
	Function RunToolFunction `json:"function"`
}

// RunToolFunction carries the function name and serialized arguments.
type RunToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output,omitempty"`
}

// RunError is the last_error payload of a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunUsage is the token usage reported on terminal runs.
type RunUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RunStep records one discrete unit of work inside a run.
type RunStep struct {
	ID          string        `json:"id"`
	Object      string        `json:"object"` // "thread.run.step"
	CreatedAt   int64         `json:"created_at"`
	RunID       string        `json:"run_id"`
	AssistantID string        `json:"assistant_id"`
	ThreadID    string        `json:"thread_id"`
	Type        RunStepType   `json:"type"`
	Status      RunStepStatus `json:"status"`
	StepDetails StepDetails   `json:"step_details"`
	LastError   *RunError     `json:"last_error,omitempty"`
	Usage       *RunUsage     `json:"usage,omitempty"`
	CancelledAt *int64        `json:"cancelled_at,omitempty"`
	FailedAt    *int64        `json:"failed_at,omitempty"`
	CompletedAt *int64        `json:"completed_at,omitempty"`
	ExpiredAt   *int64        `json:"expired_at,omitempty"`
}

// StepDetails is the type-specific payload of a run step.
type StepDetails struct {
	Type            string               `json:"type"`
	MessageCreation *MessageCreationStep `json:"message_creation,omitempty"`
	ToolCalls       []RunToolCall        `json:"tool_calls,omitempty"`
}

// MessageCreationStep references the message a step produced.
type MessageCreationStep struct {
	MessageID string `json:"message_id"`
}

// ListEnvelope is the OpenAI list wrapper.
type ListEnvelope struct {
	Object  string      `json:"object"` // "list"
	Data    interface{} `json:"data"`
	FirstID string      `json:"first_id,omitempty"`
	LastID  string      `json:"last_id,omitempty"`
	HasMore bool        `json:"has_more"`
}

// Model is one entry of the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
