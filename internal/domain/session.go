package domain

import (
	"encoding/json"
	"time"
)

// Session represents a conversation session. Sessions are the tenant-owned
// aggregate root; runs, threads, checkpoints and messages all hang off one.
type Session struct {
	SessionID       string          `json:"session_id"`
	Status          SessionStatus   `json:"status"`
	Model           string          `json:"model"`
	WorkingDir      string          `json:"working_dir,omitempty"`
	NumTurns        int             `json:"num_turns"`
	TotalCostUSD    float64         `json:"total_cost_usd"`
	ParentSessionID string          `json:"parent_session_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	OwnerHash       string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SessionUpdate carries the mutable fields of a session. Nil pointers leave
// the field untouched. ExpectedUpdatedAt, when set, enables the optimistic
// check: a mismatch against the stored row yields ErrConflict.
type SessionUpdate struct {
	Status            *SessionStatus
	NumTurns          *int
	TotalCostUSD      *float64
	Metadata          json.RawMessage
	ExpectedUpdatedAt *time.Time
}

// SessionFilter narrows a session list query.
type SessionFilter struct {
	Status SessionStatus
}

// Message represents a single message in a session.
type Message struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role"` // user, assistant, system
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Checkpoint records the files modified up to one user turn. The
// UserMessageUUID is the idempotency key: recording the same key twice
// returns the original row.
type Checkpoint struct {
	CheckpointID    string    `json:"checkpoint_id"`
	SessionID       string    `json:"session_id"`
	UserMessageUUID string    `json:"user_message_uuid"`
	FilesModified   []string  `json:"files_modified"`
	CreatedAt       time.Time `json:"created_at"`
}
