package domain

import "encoding/json"

// StreamEvent is one event on the public SSE stream. Exactly one payload
// field is non-nil, matching Type. The engine guarantees ordering: one Init
// first, one Done last, Result (if any) immediately before Done.
type StreamEvent struct {
	Type     StreamEventType
	Init     *InitPayload
	Message  *MessagePayload
	Question *QuestionPayload
	Result   *ResultPayload
	Error    *ErrorPayload
	Done     *DonePayload
}

// Payload returns the JSON body written on the data: line.
func (e StreamEvent) Payload() interface{} {
	switch e.Type {
	case StreamEventInit:
		return e.Init
	case StreamEventMessage:
		return e.Message
	case StreamEventQuestion:
		return e.Question
	case StreamEventResult:
		return e.Result
	case StreamEventError:
		return e.Error
	case StreamEventDone:
		return e.Done
	}
	return nil
}

// InitPayload opens every stream.
type InitPayload struct {
	SessionID    string   `json:"session_id"`
	Model        string   `json:"model"`
	AllowedTools []string `json:"allowed_tools"`
	Commands     []string `json:"commands,omitempty"`
	Plugins      []string `json:"plugins,omitempty"`
}

// MessagePayload carries one produced content turn.
type MessagePayload struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"` // user or assistant
	Content   string `json:"content"`
}

// QuestionPayload is emitted when the agent invokes an interactive-question
// tool. CorrelationID is resolved by the answer entry point.
type QuestionPayload struct {
	CorrelationID string   `json:"correlation_id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options,omitempty"`
}

// ResultPayload carries the terminal result of a completed stream.
type ResultPayload struct {
	NumTurns         int             `json:"num_turns"`
	TotalCostUSD     float64         `json:"total_cost_usd"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

// ErrorPayload is emitted before done(reason=error).
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DonePayload terminates every stream.
type DonePayload struct {
	Reason DoneReason `json:"reason"`
}

// InitEvent builds an init stream event.
func InitEvent(p InitPayload) StreamEvent {
	return StreamEvent{Type: StreamEventInit, Init: &p}
}

// MessageEvent builds a message stream event.
func MessageEvent(p MessagePayload) StreamEvent {
	return StreamEvent{Type: StreamEventMessage, Message: &p}
}

// QuestionEvent builds a question stream event.
func QuestionEvent(p QuestionPayload) StreamEvent {
	return StreamEvent{Type: StreamEventQuestion, Question: &p}
}

// ResultEvent builds a result stream event.
func ResultEvent(p ResultPayload) StreamEvent {
	return StreamEvent{Type: StreamEventResult, Result: &p}
}

// ErrorEvent builds an error stream event.
func ErrorEvent(code, message string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: &ErrorPayload{Code: code, Message: message}}
}

// DoneEvent builds a done stream event.
func DoneEvent(reason DoneReason) StreamEvent {
	return StreamEvent{Type: StreamEventDone, Done: &DonePayload{Reason: reason}}
}
