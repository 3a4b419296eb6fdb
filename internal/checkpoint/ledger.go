// Package checkpoint keeps the append-only ledger of file-modification
// checkpoints and validates rewind eligibility.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/store"
)

// Ledger records checkpoints against the durable store.
type Ledger struct {
	store store.Store
}

// NewLedger creates a ledger over the durable store.
func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Record appends a checkpoint. The user message UUID is the idempotency
// key: replaying it returns the existing row instead of duplicating.
func (l *Ledger) Record(ctx context.Context, sessionID, userMessageUUID string, filesModified []string) (*domain.Checkpoint, error) {
	if userMessageUUID == "" {
		return nil, fmt.Errorf("user_message_uuid is required: %w", domain.ErrValidation)
	}
	if filesModified == nil {
		filesModified = []string{}
	}

	checkpoint := &domain.Checkpoint{
		CheckpointID:    "ckpt_" + ulid.Make().String(),
		SessionID:       sessionID,
		UserMessageUUID: userMessageUUID,
		FilesModified:   filesModified,
		CreatedAt:       time.Now().UTC(),
	}

	err := l.store.CreateCheckpoint(ctx, checkpoint)
	if err == nil {
		return checkpoint, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, err
	}

	// Unique index hit: the key was already recorded.
	existing, getErr := l.store.GetCheckpointByUserMessageUUID(ctx, userMessageUUID)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, err
	}
	return existing, nil
}

// List returns the session's checkpoints ordered by creation time ascending.
func (l *Ledger) List(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	checkpoints, err := l.store.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if checkpoints == nil {
		checkpoints = []domain.Checkpoint{}
	}
	return checkpoints, nil
}

// ValidateForRewind checks that the checkpoint exists and belongs to the
// target session. A checkpoint recorded against a different session is
// invalid regardless of whether the id exists.
func (l *Ledger) ValidateForRewind(ctx context.Context, sessionID, checkpointID string) (*domain.Checkpoint, error) {
	checkpoint, err := l.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, domain.ErrInvalidCheckpoint)
	}
	if checkpoint.SessionID != sessionID {
		return nil, fmt.Errorf("checkpoint %s belongs to another session: %w", checkpointID, domain.ErrInvalidCheckpoint)
	}
	return checkpoint, nil
}
