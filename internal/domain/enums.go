// Package domain defines the core domain models for the gateway.
package domain

// SessionStatus represents the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// RunStatus represents the status of an OpenAI-projected run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the status is absorbing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCancelled, RunStatusFailed, RunStatusCompleted, RunStatusExpired:
		return true
	}
	return false
}

// RunStepStatus represents the status of a run step.
type RunStepStatus string

const (
	RunStepStatusInProgress RunStepStatus = "in_progress"
	RunStepStatusCancelled  RunStepStatus = "cancelled"
	RunStepStatusFailed     RunStepStatus = "failed"
	RunStepStatusCompleted  RunStepStatus = "completed"
	RunStepStatusExpired    RunStepStatus = "expired"
)

// RunStepType represents the kind of work a run step records.
type RunStepType string

const (
	RunStepTypeMessageCreation RunStepType = "message_creation"
	RunStepTypeToolCalls       RunStepType = "tool_calls"
)

// StreamEventType identifies an event on the public SSE stream.
type StreamEventType string

const (
	StreamEventInit     StreamEventType = "init"
	StreamEventMessage  StreamEventType = "message"
	StreamEventQuestion StreamEventType = "question"
	StreamEventResult   StreamEventType = "result"
	StreamEventError    StreamEventType = "error"
	StreamEventDone     StreamEventType = "done"
)

// DoneReason gives the terminal reason carried by a done event.
type DoneReason string

const (
	DoneReasonCompleted   DoneReason = "completed"
	DoneReasonError       DoneReason = "error"
	DoneReasonInterrupted DoneReason = "interrupted"
)

// PermissionMode controls how the agent engine treats tool permissions.
type PermissionMode string

const (
	PermissionModeDefault     PermissionMode = "default"
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	PermissionModePlan        PermissionMode = "plan"
	PermissionModeBypass      PermissionMode = "bypassPermissions"
)

// Valid reports whether the permission mode is one of the known modes.
func (m PermissionMode) Valid() bool {
	switch m {
	case PermissionModeDefault, PermissionModeAcceptEdits, PermissionModePlan, PermissionModeBypass:
		return true
	}
	return false
}

// LookupSource tags where a session lookup was resolved from.
type LookupSource string

const (
	LookupSourceCache   LookupSource = "cache"
	LookupSourceDurable LookupSource = "durable"
)
