// Package runs implements the OpenAI Assistants run lifecycle and the
// projection of native sessions into OpenAI-shaped objects.
package runs

import "github.com/google/uuid"

func newID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}

// NewRunID mints a run id.
func NewRunID() string { return newID("run") }

// NewStepID mints a run step id.
func NewStepID() string { return newID("step") }

// NewThreadID mints a thread id.
func NewThreadID() string { return newID("thread") }

// NewMessageID mints a message id.
func NewMessageID() string { return newID("msg") }

// NewAssistantID mints an assistant id.
func NewAssistantID() string { return newID("asst") }

// NewSessionID mints a native session id.
func NewSessionID() string { return newID("sess") }
