package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/runs"
	"github.com/tyin88/agentgw/internal/stream"
)

// Resume continues an existing session with a new prompt, writing the
// public event stream to sink. The call blocks until the stream's terminal
// done event has been written.
func (s *Service) Resume(ctx context.Context, sessionID, ownerHash string, req domain.ResumeRequest, sink func(domain.StreamEvent) error) error {
	if req.Prompt == "" {
		return domain.NewValidationError("prompt is required", "body", "prompt")
	}
	session, err := s.GetSession(ctx, sessionID, ownerHash)
	if err != nil {
		return err
	}
	return s.runStream(ctx, session, streamParams{
		Prompt:          req.Prompt,
		MaxTurns:        req.MaxTurns,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		PermissionMode:  req.PermissionMode,
		OutputSchema:    req.OutputSchema,
		UserMessageUUID: req.UserMessageUUID,
	}, sink)
}

// Fork branches a new session off an existing one and streams against the
// new session id. The parent is never written to.
func (s *Service) Fork(ctx context.Context, sessionID, ownerHash string, req domain.ForkRequest, sink func(domain.StreamEvent) error) (*domain.Session, error) {
	if req.Prompt == "" {
		return nil, domain.NewValidationError("prompt is required", "body", "prompt")
	}
	parent, err := s.GetSession(ctx, sessionID, ownerHash)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = parent.Model
	}
	now := time.Now().UTC()
	child := &domain.Session{
		SessionID:       runs.NewSessionID(),
		Status:          domain.SessionStatusActive,
		Model:           model,
		WorkingDir:      parent.WorkingDir,
		ParentSessionID: parent.SessionID,
		Metadata:        parent.Metadata,
		OwnerHash:       ownerHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.sessions.CreateSession(ctx, child); err != nil {
		return nil, err
	}

	err = s.runStream(ctx, child, streamParams{
		Prompt:          req.Prompt,
		MaxTurns:        req.MaxTurns,
		AllowedTools:    req.AllowedTools,
		DisallowedTools: req.DisallowedTools,
		PermissionMode:  req.PermissionMode,
		OutputSchema:    req.OutputSchema,
	}, sink)
	return child, err
}

type streamParams struct {
	Prompt          string
	MaxTurns        int
	AllowedTools    []string
	DisallowedTools []string
	PermissionMode  domain.PermissionMode
	OutputSchema    json.RawMessage
	UserMessageUUID string
}

// runStream owns one logical stream end to end: single-flight registration,
// policy resolution, user message persistence, the runner, and the final
// session bookkeeping.
func (s *Service) runStream(ctx context.Context, session *domain.Session, params streamParams, sink func(domain.StreamEvent) error) error {
	mode := params.PermissionMode
	if mode == "" {
		mode = sessionPermissionMode(session)
	}
	if !mode.Valid() {
		return domain.NewValidationError("invalid permission mode", "body", "permission_mode")
	}

	// Contradictory allow/deny input is resolved here, before any event is
	// emitted; validation errors never reach the streaming engine.
	allowedTools, err := s.policy.EffectiveTools(ctx, defaultTools, mode, params.AllowedTools, params.DisallowedTools)
	if err != nil {
		return err
	}
	if len(params.OutputSchema) > 0 {
		if !json.Valid(params.OutputSchema) {
			return domain.NewValidationError("output_schema is not valid JSON", "body", "output_schema")
		}
	}

	handle, err := s.registry.Begin(session.SessionID)
	if err != nil {
		return err
	}
	defer s.registry.End(session.SessionID)

	userMsg := &domain.Message{
		MessageID: runs.NewMessageID(),
		SessionID: session.SessionID,
		Role:      "user",
		Content:   params.Prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		log.Printf("ERROR: failed to save user message: %v", err)
		// Message storage failure shouldn't block the stream.
	}

	observer := &streamObserver{svc: s, sessionID: session.SessionID}
	runner := &stream.Runner{
		Engine:       s.engine,
		Handle:       handle,
		Observer:     observer,
		SessionID:    session.SessionID,
		Model:        session.Model,
		AllowedTools: allowedTools,
		OutputSchema: params.OutputSchema,
	}

	history, err := s.store.GetMessages(ctx, session.SessionID, 50, "")
	if err != nil {
		log.Printf("WARN: failed to load history for %s: %v", session.SessionID, err)
		history = nil
	}

	result := runner.Run(ctx, engine.RunInput{
		SessionID:      session.SessionID,
		Model:          session.Model,
		Prompt:         params.Prompt,
		History:        history,
		MaxTurns:       params.MaxTurns,
		AllowedTools:   allowedTools,
		PermissionMode: mode,
		WorkingDir:     session.WorkingDir,
	}, sink)

	s.finishStream(ctx, session, params, observer, result)
	return result.Err
}

// finishStream records the stream's outcome on the session and, when the
// turn carried an idempotency key and touched files, in the checkpoint
// ledger. An interrupted stream leaves the session active.
func (s *Service) finishStream(ctx context.Context, session *domain.Session, params streamParams, observer *streamObserver, result stream.Result) {
	if params.UserMessageUUID != "" {
		files := observer.FilesModified()
		if _, err := s.ledger.Record(ctx, session.SessionID, params.UserMessageUUID, files); err != nil {
			log.Printf("ERROR: failed to record checkpoint for %s: %v", session.SessionID, err)
		}
	}

	update := domain.SessionUpdate{}
	switch result.State {
	case stream.StateCompleted:
		status := domain.SessionStatusCompleted
		turns := session.NumTurns + result.NumTurns
		cost := session.TotalCostUSD + result.TotalCostUSD
		update.Status = &status
		update.NumTurns = &turns
		update.TotalCostUSD = &cost
	case stream.StateErrored:
		status := domain.SessionStatusError
		update.Status = &status
	case stream.StateInterrupted:
		return
	}

	if _, err := s.sessions.UpdateSession(ctx, session.SessionID, update); err != nil {
		log.Printf("ERROR: failed to finalize session %s: %v", session.SessionID, err)
	}
}

func sessionPermissionMode(session *domain.Session) domain.PermissionMode {
	if len(session.Metadata) == 0 {
		return domain.PermissionModeDefault
	}
	var meta struct {
		PermissionMode string `json:"permission_mode"`
	}
	if err := json.Unmarshal(session.Metadata, &meta); err != nil || meta.PermissionMode == "" {
		return domain.PermissionModeDefault
	}
	return domain.PermissionMode(meta.PermissionMode)
}

// streamObserver persists produced messages and tracks which files the
// agent's tools touched during the turn.
type streamObserver struct {
	svc       *Service
	sessionID string

	mu    sync.Mutex
	files []string
	seen  map[string]bool
}

func (o *streamObserver) OnAssistantMessage(ctx context.Context, content string) string {
	msg := &domain.Message{
		MessageID: runs.NewMessageID(),
		SessionID: o.sessionID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.svc.store.CreateMessage(ctx, msg); err != nil {
		log.Printf("ERROR: failed to save assistant message: %v", err)
	}
	return msg.MessageID
}

func (o *streamObserver) OnToolUse(ctx context.Context, toolName string, args json.RawMessage) {
	if toolName != "Write" && toolName != "Edit" {
		return
	}
	var params struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.FilePath == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = make(map[string]bool)
	}
	if !o.seen[params.FilePath] {
		o.seen[params.FilePath] = true
		o.files = append(o.files, params.FilePath)
	}
}

// FilesModified returns the files touched during the turn, in first-touch order.
func (o *streamObserver) FilesModified() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	files := make([]string, len(o.files))
	copy(files, o.files)
	return files
}
