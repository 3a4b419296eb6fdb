// Package store provides persistence for sessions, checkpoints and the
// OpenAI projections: a durable SQLite store plus an in-memory cache tier
// composed by TieredStore.
package store

import (
	"context"

	"github.com/tyin88/agentgw/internal/domain"
)

// Store is the durable persistence interface.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) (*domain.Session, error)
	ListSessions(ctx context.Context, ownerHash string, page, pageSize int, filter domain.SessionFilter) ([]domain.Session, int, error)

	// Messages
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error
	GetCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error)
	GetCheckpointByUserMessageUUID(ctx context.Context, userMessageUUID string) (*domain.Checkpoint, error)
	ListCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)

	// Assistants
	CreateAssistant(ctx context.Context, assistant *domain.Assistant) error
	GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error)
	UpdateAssistant(ctx context.Context, assistant *domain.Assistant) error
	ListAssistants(ctx context.Context, ownerHash string, limit int) ([]domain.Assistant, error)
	DeleteAssistant(ctx context.Context, assistantID string) error

	// Threads
	CreateThread(ctx context.Context, thread *domain.Thread) error
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)

	// Runs
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, threadID string, limit int) ([]domain.Run, error)

	// Run steps
	CreateRunStep(ctx context.Context, step *domain.RunStep) error
	UpdateRunStep(ctx context.Context, step *domain.RunStep) error
	ListRunSteps(ctx context.Context, runID string) ([]domain.RunStep, error)

	Close() error
}

// SessionCache is the cache tier for session metadata. Implementations must
// be safe for concurrent use.
type SessionCache interface {
	Get(sessionID string) (*domain.Session, bool)
	Put(session *domain.Session)
	Delete(sessionID string)
}
