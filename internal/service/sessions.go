package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/runs"
)

// CreateSession starts a fresh session owned by the caller's tenant.
func (s *Service) CreateSession(ctx context.Context, ownerHash string, req domain.CreateSessionRequest) (*domain.Session, error) {
	model := req.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	now := time.Now().UTC()
	session := &domain.Session{
		SessionID:  runs.NewSessionID(),
		Status:     domain.SessionStatusActive,
		Model:      model,
		WorkingDir: req.WorkingDir,
		Metadata:   req.Metadata,
		OwnerHash:  ownerHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession resolves a session for the caller's tenant. Cross-tenant ids
// come back as ErrNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID, ownerHash string) (*domain.Session, error) {
	session, _, err := s.sessions.GetSession(ctx, sessionID, ownerHash)
	return session, err
}

// ListSessions pages the caller's sessions.
func (s *Service) ListSessions(ctx context.Context, ownerHash string, page, pageSize int, filter domain.SessionFilter) ([]domain.Session, int, error) {
	sessions, total, err := s.sessions.ListSessions(ctx, ownerHash, page, pageSize, filter)
	if err != nil {
		return nil, 0, err
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return sessions, total, nil
}

// GetSessionMessages returns a session's message history.
func (s *Service) GetSessionMessages(ctx context.Context, sessionID, ownerHash string, limit int, before string) ([]domain.Message, error) {
	if _, err := s.GetSession(ctx, sessionID, ownerHash); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, sessionID, limit, before)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// Interrupt flags the session's live stream. 404 when the session is
// unknown, cross-tenant, or not actively streaming.
func (s *Service) Interrupt(ctx context.Context, sessionID, ownerHash string) error {
	if _, err := s.GetSession(ctx, sessionID, ownerHash); err != nil {
		return err
	}
	return s.registry.Interrupt(sessionID)
}

// Answer resolves the session's pending question event.
func (s *Service) Answer(ctx context.Context, sessionID, ownerHash string, req domain.AnswerRequest) error {
	if req.Answer == "" {
		return domain.NewValidationError("answer is required", "body", "answer")
	}
	if _, err := s.GetSession(ctx, sessionID, ownerHash); err != nil {
		return err
	}
	return s.registry.Answer(sessionID, req.CorrelationID, req.Answer)
}

// Control applies a live-session control request. Only
// permission_mode_change is accepted.
func (s *Service) Control(ctx context.Context, sessionID, ownerHash string, req domain.ControlRequest) error {
	if req.Type != "permission_mode_change" {
		return domain.NewValidationError("unsupported control type", "body", "type")
	}
	if !req.PermissionMode.Valid() {
		return domain.NewValidationError("invalid permission mode", "body", "permission_mode")
	}
	session, err := s.GetSession(ctx, sessionID, ownerHash)
	if err != nil {
		return err
	}

	meta := map[string]interface{}{}
	if len(session.Metadata) > 0 {
		if err := json.Unmarshal(session.Metadata, &meta); err != nil {
			log.Printf("WARN: session %s has unreadable metadata: %v", sessionID, err)
			meta = map[string]interface{}{}
		}
	}
	meta["permission_mode"] = string(req.PermissionMode)
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.sessions.UpdateSession(ctx, sessionID, domain.SessionUpdate{Metadata: raw})
	return err
}

// ListCheckpoints returns the session's checkpoint ledger, oldest first.
func (s *Service) ListCheckpoints(ctx context.Context, sessionID, ownerHash string) ([]domain.Checkpoint, error) {
	if _, err := s.GetSession(ctx, sessionID, ownerHash); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, sessionID)
}

// Rewind validates the checkpoint and delegates file restoration to the
// engine. Cross-session checkpoints are invalid regardless of existence.
func (s *Service) Rewind(ctx context.Context, sessionID, ownerHash, checkpointID string) (*domain.Checkpoint, error) {
	if _, err := s.GetSession(ctx, sessionID, ownerHash); err != nil {
		return nil, err
	}
	checkpoint, err := s.ledger.ValidateForRewind(ctx, sessionID, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Rewind(ctx, sessionID, checkpointID); err != nil {
		return nil, fmt.Errorf("%w: rewind: %v", domain.ErrAgentExecution, err)
	}
	log.Printf("INFO: session %s rewind accepted at checkpoint %s", sessionID, checkpointID)
	return checkpoint, nil
}

// RecordCheckpoint appends a file-modification checkpoint for a session.
// Replaying the same user message UUID returns the original record.
func (s *Service) RecordCheckpoint(ctx context.Context, sessionID, userMessageUUID string, filesModified []string) (*domain.Checkpoint, error) {
	return s.ledger.Record(ctx, sessionID, userMessageUUID, filesModified)
}
