package domain

import "encoding/json"

// ResumeRequest continues an existing session with a new prompt.
type ResumeRequest struct {
	Prompt          string          `json:"prompt"`
	MaxTurns        int             `json:"max_turns,omitempty"`
	AllowedTools    []string        `json:"allowed_tools,omitempty"`
	DisallowedTools []string        `json:"disallowed_tools,omitempty"`
	PermissionMode  PermissionMode  `json:"permission_mode,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
	UserMessageUUID string          `json:"user_message_uuid,omitempty"`
}

// ForkRequest starts a new session branched off an existing one.
type ForkRequest struct {
	Prompt          string          `json:"prompt"`
	Model           string          `json:"model,omitempty"`
	MaxTurns        int             `json:"max_turns,omitempty"`
	AllowedTools    []string        `json:"allowed_tools,omitempty"`
	DisallowedTools []string        `json:"disallowed_tools,omitempty"`
	PermissionMode  PermissionMode  `json:"permission_mode,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty"`
}

// CreateSessionRequest starts a fresh session.
type CreateSessionRequest struct {
	Model      string          `json:"model"`
	WorkingDir string          `json:"working_dir,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ControlRequest adjusts a live session. Only permission_mode_change is
// defined today.
type ControlRequest struct {
	Type           string         `json:"type"`
	PermissionMode PermissionMode `json:"permission_mode,omitempty"`
}

// AnswerRequest resolves a pending question event.
type AnswerRequest struct {
	Answer        string `json:"answer"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RewindRequest asks for restoration to a recorded checkpoint.
type RewindRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}
