package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the gateway error taxonomy. Transport maps these to
// response codes; everything else wraps one of them with context.
var (
	// ErrNotFound covers both genuinely absent resources and resources
	// owned by a different tenant. The two are indistinguishable on
	// purpose so session ids cannot be probed across tenants.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed or contradictory input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks integrity violations (duplicate id, stale
	// optimistic version, second concurrent stream on one session).
	ErrConflict = errors.New("conflict")

	// ErrStorageUnavailable marks a durable-store outage. Retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCheckpoint marks a checkpoint that is missing or belongs
	// to a different session than the rewind target.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrStructuredOutput marks a terminal payload failing the
	// caller-supplied schema.
	ErrStructuredOutput = errors.New("structured output validation failed")

	// ErrAgentExecution marks a failure inside the delegated engine.
	ErrAgentExecution = errors.New("agent execution failed")

	// ErrTimeout marks an operation exceeding its configured bound.
	ErrTimeout = errors.New("timeout")
)

// NotFoundError wraps ErrNotFound with the missing resource kind so the
// error envelope can carry a resource-specific code.
type NotFoundError struct {
	Resource string // session, assistant, thread, run, model
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ErrorCode returns the stable machine-readable code for an error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return strings.ToUpper(notFound.Resource) + "_NOT_FOUND"
		}
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrInvalidCheckpoint):
		return "INVALID_CHECKPOINT"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrStructuredOutput):
		return "STRUCTURED_OUTPUT_INVALID"
	case errors.Is(err, ErrAgentExecution):
		return "AGENT_EXECUTION_ERROR"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	}
	return "INTERNAL_ERROR"
}

// ValidationError carries field-level detail for native API 422 responses.
type ValidationError struct {
	Fields []FieldError
}

// FieldError names one offending field by path.
type FieldError struct {
	Loc     []string `json:"loc"`
	Message string   `json:"msg"`
	Type    string   `json:"type"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %v: %s", e.Fields[0].Loc, e.Fields[0].Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a single-field validation error.
func NewValidationError(msg string, loc ...string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Loc: loc, Message: msg, Type: "value_error"}}}
}
