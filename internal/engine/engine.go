// Package engine defines the boundary to the agent execution engine. The
// engine is a collaborator: given a prompt and options it produces a stream
// of events from a closed set; everything else about its reasoning is opaque.
package engine

import (
	"context"
	"encoding/json"

	"github.com/tyin88/agentgw/internal/domain"
)

// EventKind is the closed set of upstream event kinds.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text"
	EventToolUse       EventKind = "tool_use"
	EventQuestion      EventKind = "question"
	EventUsage         EventKind = "usage"
	EventDone          EventKind = "done"
	EventError         EventKind = "error"
)

// Event is one upstream event. Fields are populated per kind.
type Event struct {
	Kind EventKind

	// assistant_text
	Text string

	// tool_use
	ToolName string
	ToolArgs json.RawMessage

	// question
	QuestionPrompt  string
	QuestionOptions []string

	// usage / done
	NumTurns     int
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	FinalOutput  json.RawMessage

	// error
	ErrMessage string
}

// RunInput is everything the engine needs for one execution.
type RunInput struct {
	SessionID      string
	Model          string
	Prompt         string
	History        []domain.Message
	MaxTurns       int
	AllowedTools   []string
	PermissionMode domain.PermissionMode
	WorkingDir     string

	// Answer awaits the caller's reply to the most recently emitted
	// question event. The engine calls it after emitting EventQuestion
	// and blocks until an answer arrives or ctx is cancelled. At most
	// one question is pending per session.
	Answer func(ctx context.Context) (string, error)
}

// EmitFunc receives each upstream event. Returning an error aborts the run.
type EmitFunc func(Event) error

// Engine executes agent runs and restores file state for rewinds.
type Engine interface {
	Run(ctx context.Context, input RunInput, emit EmitFunc) error
	Rewind(ctx context.Context, sessionID, checkpointID string) error
}
