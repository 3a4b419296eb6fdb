package runs

import (
	"time"

	"github.com/tyin88/agentgw/internal/domain"
)

// The run lifecycle: queued -> in_progress -> completed, with
// in_progress <-> requires_action around tool output submission, and
// failed / cancelled / expired reachable from any non-terminal state.
// Terminal states are absorbing: every transition on a terminal run is a
// no-op. Exactly one terminal timestamp is ever stamped.

// NewRun builds a queued run.
func NewRun(threadID, assistantID, sessionID, model, instructions string, tools []domain.AssistantTool, expiry time.Duration) *domain.Run {
	now := time.Now()
	if tools == nil {
		tools = []domain.AssistantTool{}
	}
	run := &domain.Run{
		ID:           NewRunID(),
		Object:       "thread.run",
		CreatedAt:    now.Unix(),
		ThreadID:     threadID,
		AssistantID:  assistantID,
		SessionID:    sessionID,
		Status:       domain.RunStatusQueued,
		Model:        model,
		Instructions: instructions,
		Tools:        tools,
		Metadata:     map[string]string{},
	}
	if expiry > 0 {
		run.ExpiresAt = now.Add(expiry).Unix()
	}
	return run
}

// Start moves a queued run to in_progress.
func Start(run *domain.Run) bool {
	if run.Status != domain.RunStatusQueued {
		return false
	}
	run.Status = domain.RunStatusInProgress
	now := time.Now().Unix()
	run.StartedAt = &now
	return true
}

// RequireAction parks an in_progress run on caller tool outputs. The
// required_action payload is non-nil exactly while the run is in this state.
func RequireAction(run *domain.Run, action *domain.RequiredAction) bool {
	if run.Status != domain.RunStatusInProgress {
		return false
	}
	run.Status = domain.RunStatusRequiresAction
	run.RequiredAction = action
	return true
}

// SubmitOutputs resumes a requires_action run.
func SubmitOutputs(run *domain.Run) bool {
	if run.Status != domain.RunStatusRequiresAction {
		return false
	}
	run.Status = domain.RunStatusInProgress
	run.RequiredAction = nil
	return true
}

// Complete finishes a run successfully.
func Complete(run *domain.Run, usage *domain.RunUsage) bool {
	if run.Status.Terminal() {
		return false
	}
	run.Status = domain.RunStatusCompleted
	run.RequiredAction = nil
	run.Usage = usage
	now := time.Now().Unix()
	run.CompletedAt = &now
	return true
}

// Fail marks a run failed with its last error.
func Fail(run *domain.Run, code, message string) bool {
	if run.Status.Terminal() {
		return false
	}
	run.Status = domain.RunStatusFailed
	run.RequiredAction = nil
	run.LastError = &domain.RunError{Code: code, Message: message}
	now := time.Now().Unix()
	run.FailedAt = &now
	return true
}

// Cancel cancels a non-terminal run.
func Cancel(run *domain.Run) bool {
	if run.Status.Terminal() {
		return false
	}
	run.Status = domain.RunStatusCancelled
	run.RequiredAction = nil
	now := time.Now().Unix()
	run.CancelledAt = &now
	return true
}

// Expire times out a non-terminal run past its wall-clock deadline.
func Expire(run *domain.Run) bool {
	if run.Status.Terminal() {
		return false
	}
	run.Status = domain.RunStatusExpired
	run.RequiredAction = nil
	now := time.Now().Unix()
	run.ExpiredAt = &now
	return true
}

// CheckExpiry applies the lazy expiry rule: deadlines are evaluated at the
// next status read or transition attempt, not by a background sweep.
// Returns true if the run expired now.
func CheckExpiry(run *domain.Run, now time.Time) bool {
	if run.Status.Terminal() || run.ExpiresAt == 0 {
		return false
	}
	if now.Unix() < run.ExpiresAt {
		return false
	}
	return Expire(run)
}

// NewMessageStep appends a message_creation step for a produced message.
func NewMessageStep(run *domain.Run, messageID string) *domain.RunStep {
	return &domain.RunStep{
		ID:          NewStepID(),
		Object:      "thread.run.step",
		CreatedAt:   time.Now().Unix(),
		RunID:       run.ID,
		AssistantID: run.AssistantID,
		ThreadID:    run.ThreadID,
		Type:        domain.RunStepTypeMessageCreation,
		Status:      domain.RunStepStatusInProgress,
		StepDetails: domain.StepDetails{
			Type:            string(domain.RunStepTypeMessageCreation),
			MessageCreation: &domain.MessageCreationStep{MessageID: messageID},
		},
	}
}

// NewToolCallsStep appends a tool_calls step for one batch of invocations.
func NewToolCallsStep(run *domain.Run, calls []domain.RunToolCall) *domain.RunStep {
	return &domain.RunStep{
		ID:          NewStepID(),
		Object:      "thread.run.step",
		CreatedAt:   time.Now().Unix(),
		RunID:       run.ID,
		AssistantID: run.AssistantID,
		ThreadID:    run.ThreadID,
		Type:        domain.RunStepTypeToolCalls,
		Status:      domain.RunStepStatusInProgress,
		StepDetails: domain.StepDetails{
			Type:      string(domain.RunStepTypeToolCalls),
			ToolCalls: calls,
		},
	}
}

// CompleteStep finishes a step.
func CompleteStep(step *domain.RunStep, usage *domain.RunUsage) bool {
	if step.Status != domain.RunStepStatusInProgress {
		return false
	}
	step.Status = domain.RunStepStatusCompleted
	step.Usage = usage
	now := time.Now().Unix()
	step.CompletedAt = &now
	return true
}

// FailStep fails a step.
func FailStep(step *domain.RunStep, code, message string) bool {
	if step.Status != domain.RunStepStatusInProgress {
		return false
	}
	step.Status = domain.RunStepStatusFailed
	step.LastError = &domain.RunError{Code: code, Message: message}
	now := time.Now().Unix()
	step.FailedAt = &now
	return true
}

// CancelStep propagates a parent run's cancellation to an open step.
func CancelStep(step *domain.RunStep) bool {
	if step.Status != domain.RunStepStatusInProgress {
		return false
	}
	step.Status = domain.RunStepStatusCancelled
	now := time.Now().Unix()
	step.CancelledAt = &now
	return true
}

// ExpireStep propagates a parent run's expiry to an open step.
func ExpireStep(step *domain.RunStep) bool {
	if step.Status != domain.RunStepStatusInProgress {
		return false
	}
	step.Status = domain.RunStepStatusExpired
	now := time.Now().Unix()
	step.ExpiredAt = &now
	return true
}
