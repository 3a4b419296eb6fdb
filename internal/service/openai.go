package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/runs"
)

// --- Assistants ---

// CreateAssistant persists a new assistant owned by the caller's tenant.
func (s *Service) CreateAssistant(ctx context.Context, ownerHash string, assistant *domain.Assistant) (*domain.Assistant, error) {
	if assistant.Model == "" {
		return nil, fmt.Errorf("model is required: %w", domain.ErrValidation)
	}
	assistant.ID = runs.NewAssistantID()
	assistant.Object = "assistant"
	assistant.CreatedAt = time.Now().Unix()
	assistant.OwnerHash = ownerHash
	if assistant.Tools == nil {
		assistant.Tools = []domain.AssistantTool{}
	}
	if assistant.Metadata == nil {
		assistant.Metadata = map[string]string{}
	}
	if err := s.store.CreateAssistant(ctx, assistant); err != nil {
		return nil, err
	}
	return assistant, nil
}

// GetAssistant resolves an assistant for the caller's tenant.
func (s *Service) GetAssistant(ctx context.Context, assistantID, ownerHash string) (*domain.Assistant, error) {
	assistant, err := s.store.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if assistant == nil || assistant.OwnerHash != ownerHash {
		return nil, &domain.NotFoundError{Resource: "assistant", ID: assistantID}
	}
	return assistant, nil
}

// UpdateAssistant applies a partial modification.
func (s *Service) UpdateAssistant(ctx context.Context, assistantID, ownerHash string, modify func(*domain.Assistant)) (*domain.Assistant, error) {
	assistant, err := s.GetAssistant(ctx, assistantID, ownerHash)
	if err != nil {
		return nil, err
	}
	modify(assistant)
	if err := s.store.UpdateAssistant(ctx, assistant); err != nil {
		return nil, err
	}
	return assistant, nil
}

// ListAssistants lists the caller's assistants.
func (s *Service) ListAssistants(ctx context.Context, ownerHash string, limit int) ([]domain.Assistant, error) {
	assistants, err := s.store.ListAssistants(ctx, ownerHash, limit)
	if err != nil {
		return nil, err
	}
	if assistants == nil {
		assistants = []domain.Assistant{}
	}
	return assistants, nil
}

// DeleteAssistant removes an assistant. Cross-tenant ids read as absent.
func (s *Service) DeleteAssistant(ctx context.Context, assistantID, ownerHash string) error {
	if _, err := s.GetAssistant(ctx, assistantID, ownerHash); err != nil {
		return err
	}
	return s.store.DeleteAssistant(ctx, assistantID)
}

// --- Threads ---

// CreateThread creates a thread and its backing session. The session keeps
// a marker in its metadata so native listings can tell threads apart.
func (s *Service) CreateThread(ctx context.Context, ownerHash string, metadata map[string]string) (*domain.Thread, error) {
	now := time.Now().UTC()
	session := &domain.Session{
		SessionID: runs.NewSessionID(),
		Status:    domain.SessionStatusActive,
		Model:     s.config.DefaultModel,
		Metadata:  json.RawMessage(`{"openai_thread":true}`),
		OwnerHash: ownerHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	thread := &domain.Thread{
		ID:        runs.NewThreadID(),
		Object:    "thread",
		CreatedAt: now.Unix(),
		Metadata:  metadata,
		SessionID: session.SessionID,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// GetThread resolves a thread for the caller's tenant via its backing session.
func (s *Service) GetThread(ctx context.Context, threadID, ownerHash string) (*domain.Thread, error) {
	thread, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, &domain.NotFoundError{Resource: "thread", ID: threadID}
	}
	if _, err := s.GetSession(ctx, thread.SessionID, ownerHash); err != nil {
		return nil, &domain.NotFoundError{Resource: "thread", ID: threadID}
	}
	return thread, nil
}

// CreateThreadMessage appends a message to the thread's backing session.
func (s *Service) CreateThreadMessage(ctx context.Context, threadID, ownerHash, role, content string) (*domain.ThreadMessage, error) {
	if role != "user" && role != "assistant" {
		return nil, fmt.Errorf("role must be user or assistant: %w", domain.ErrValidation)
	}
	if content == "" {
		return nil, fmt.Errorf("content is required: %w", domain.ErrValidation)
	}
	thread, err := s.GetThread(ctx, threadID, ownerHash)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		MessageID: runs.NewMessageID(),
		SessionID: thread.SessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	projected := runs.ProjectThreadMessages(threadID, []domain.Message{*msg})
	return &projected[0], nil
}

// ListThreadMessages projects the backing session's history as OpenAI
// thread messages.
func (s *Service) ListThreadMessages(ctx context.Context, threadID, ownerHash string, limit int) ([]domain.ThreadMessage, error) {
	thread, err := s.GetThread(ctx, threadID, ownerHash)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, thread.SessionID, limit, "")
	if err != nil {
		return nil, err
	}
	return runs.ProjectThreadMessages(threadID, messages), nil
}

// --- Runs ---

// CreateRun queues a run of an assistant against a thread and starts its
// execution in the background.
func (s *Service) CreateRun(ctx context.Context, threadID, ownerHash, assistantID, modelOverride, instructionsOverride string) (*domain.Run, error) {
	if assistantID == "" {
		return nil, fmt.Errorf("assistant_id is required: %w", domain.ErrValidation)
	}
	thread, err := s.GetThread(ctx, threadID, ownerHash)
	if err != nil {
		return nil, err
	}
	assistant, err := s.GetAssistant(ctx, assistantID, ownerHash)
	if err != nil {
		return nil, err
	}

	model := assistant.Model
	if modelOverride != "" {
		model = modelOverride
	}
	instructions := assistant.Instructions
	if instructionsOverride != "" {
		instructions = instructionsOverride
	}

	run := runs.NewRun(threadID, assistantID, thread.SessionID, model, instructions, assistant.Tools, s.config.RunExpiry)
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	go s.executeRun(run.ID)
	return run, nil
}

// errRunParked aborts the engine loop when the run stops on caller tool
// outputs. SubmitToolOutputs restarts execution.
var errRunParked = errors.New("run awaiting tool outputs")

// runFunctionTools lists the function tool names declared on the run. The
// engine never executes these itself; invoking one parks the run on the
// caller's outputs.
func runFunctionTools(run *domain.Run) map[string]bool {
	names := make(map[string]bool)
	for _, tool := range run.Tools {
		if tool.Type != "function" || len(tool.Function) == 0 {
			continue
		}
		var fn struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(tool.Function, &fn); err == nil && fn.Name != "" {
			names[fn.Name] = true
		}
	}
	return names
}

// executeRun drives one run until it completes, fails, or parks on
// required_action.
func (s *Service) executeRun(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.EngineTimeout)
	defer cancel()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		log.Printf("ERROR: run %s disappeared before execution: %v", runID, err)
		return
	}

	handle, err := s.registry.Begin(run.SessionID)
	if err != nil {
		runs.Fail(run, "concurrent_stream", "session already has a live stream")
		s.persistRun(ctx, run)
		return
	}
	defer s.registry.End(run.SessionID)

	runs.Start(run)
	s.persistRun(ctx, run)

	history, err := s.store.GetMessages(ctx, run.SessionID, 50, "")
	if err != nil {
		log.Printf("WARN: failed to load history for run %s: %v", runID, err)
		history = nil
	}
	prompt := run.Instructions
	if prompt == "" {
		prompt = "Continue the conversation."
	}

	functionTools := runFunctionTools(run)

	var usage domain.RunUsage
	var turns int
	var cost float64
	var engineErr string
	var openStep *domain.RunStep

	park := func(call domain.RunToolCall) error {
		step := runs.NewToolCallsStep(run, []domain.RunToolCall{call})
		if err := s.store.CreateRunStep(ctx, step); err != nil {
			log.Printf("ERROR: failed to create tool step: %v", err)
		}
		runs.RequireAction(run, &domain.RequiredAction{
			Type:              "submit_tool_outputs",
			SubmitToolOutputs: &domain.SubmitToolOutputs{ToolCalls: []domain.RunToolCall{call}},
		})
		return errRunParked
	}

	runErr := s.engine.Run(ctx, engine.RunInput{
		SessionID: run.SessionID,
		Model:     run.Model,
		Prompt:    prompt,
		History:   history,
		MaxTurns:  1,
	}, func(ev engine.Event) error {
		if handle.Interrupted() {
			return context.Canceled
		}
		switch ev.Kind {
		case engine.EventAssistantText:
			msg := &domain.Message{
				MessageID: runs.NewMessageID(),
				SessionID: run.SessionID,
				Role:      "assistant",
				Content:   ev.Text,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.store.CreateMessage(ctx, msg); err != nil {
				log.Printf("ERROR: failed to save run message: %v", err)
			}
			step := runs.NewMessageStep(run, msg.MessageID)
			if err := s.store.CreateRunStep(ctx, step); err != nil {
				log.Printf("ERROR: failed to create run step: %v", err)
			}
			openStep = step
		case engine.EventToolUse:
			call := domain.RunToolCall{
				ID:   runs.NewStepID(),
				Type: "function",
				Function: domain.RunToolFunction{
					Name:      ev.ToolName,
					Arguments: string(ev.ToolArgs),
				},
			}
			if functionTools[ev.ToolName] {
				return park(call)
			}
			step := runs.NewToolCallsStep(run, []domain.RunToolCall{call})
			if err := s.store.CreateRunStep(ctx, step); err != nil {
				log.Printf("ERROR: failed to create tool step: %v", err)
			}
			openStep = step
		case engine.EventQuestion:
			// Runs have no interactive answer channel; a question parks
			// the run as a tool call the caller answers via outputs.
			args, _ := json.Marshal(map[string]interface{}{
				"prompt":  ev.QuestionPrompt,
				"options": ev.QuestionOptions,
			})
			return park(domain.RunToolCall{
				ID:   runs.NewStepID(),
				Type: "function",
				Function: domain.RunToolFunction{
					Name:      "answer_question",
					Arguments: string(args),
				},
			})
		case engine.EventUsage:
			usage.PromptTokens = ev.InputTokens
			usage.CompletionTokens = ev.OutputTokens
			usage.TotalTokens = ev.InputTokens + ev.OutputTokens
			turns = ev.NumTurns
			cost = ev.CostUSD
		case engine.EventDone:
			if ev.NumTurns > 0 {
				turns = ev.NumTurns
				cost = ev.CostUSD
			}
		case engine.EventError:
			engineErr = ev.ErrMessage
		}
		return nil
	})

	if errors.Is(runErr, errRunParked) {
		s.persistRun(ctx, run)
		return
	}

	// After an interrupt no further step timestamps are written beyond the
	// single cancellation stamp below.
	switch {
	case handle.Interrupted():
		runs.Cancel(run)
		if openStep != nil && runs.CancelStep(openStep) {
			s.persistStep(ctx, openStep)
		}
	case engineErr != "" || runErr != nil:
		message := engineErr
		if message == "" {
			message = runErr.Error()
		}
		runs.Fail(run, "agent_execution_error", message)
		if openStep != nil && runs.FailStep(openStep, "agent_execution_error", message) {
			s.persistStep(ctx, openStep)
		}
	default:
		runs.Complete(run, &usage)
		if openStep != nil && runs.CompleteStep(openStep, &usage) {
			s.persistStep(ctx, openStep)
		}
	}
	s.persistRun(ctx, run)
	s.finishRunSession(ctx, run, turns, cost)
}

// finishRunSession reflects a run's terminal outcome on its backing session
// so the projection and the session lifecycle never diverge. A cancelled
// run leaves the session active, matching an interrupted stream.
func (s *Service) finishRunSession(ctx context.Context, run *domain.Run, turns int, cost float64) {
	update := domain.SessionUpdate{}
	switch run.Status {
	case domain.RunStatusCompleted:
		session, err := s.store.GetSession(ctx, run.SessionID)
		if err != nil || session == nil {
			log.Printf("ERROR: failed to load session %s for run %s: %v", run.SessionID, run.ID, err)
			return
		}
		status := domain.SessionStatusCompleted
		total := session.NumTurns + turns
		spent := session.TotalCostUSD + cost
		update.Status = &status
		update.NumTurns = &total
		update.TotalCostUSD = &spent
	case domain.RunStatusFailed:
		status := domain.SessionStatusError
		update.Status = &status
	default:
		return
	}
	if _, err := s.sessions.UpdateSession(ctx, run.SessionID, update); err != nil {
		log.Printf("ERROR: failed to finalize session %s for run %s: %v", run.SessionID, run.ID, err)
	}
}

func (s *Service) persistRun(ctx context.Context, run *domain.Run) {
	if err := s.store.UpdateRun(ctx, run); err != nil {
		log.Printf("ERROR: failed to persist run %s: %v", run.ID, err)
	}
}

func (s *Service) persistStep(ctx context.Context, step *domain.RunStep) {
	if err := s.store.UpdateRunStep(ctx, step); err != nil {
		log.Printf("ERROR: failed to persist step %s: %v", step.ID, err)
	}
}

// GetRun resolves a run, applying the lazy expiry rule at read time.
func (s *Service) GetRun(ctx context.Context, threadID, runID, ownerHash string) (*domain.Run, error) {
	if _, err := s.GetThread(ctx, threadID, ownerHash); err != nil {
		return nil, err
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.ThreadID != threadID {
		return nil, &domain.NotFoundError{Resource: "run", ID: runID}
	}
	if runs.CheckExpiry(run, time.Now()) {
		s.persistRun(ctx, run)
		s.expireOpenSteps(ctx, run)
	}
	return run, nil
}

// ListRuns lists a thread's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, threadID, ownerHash string, limit int) ([]domain.Run, error) {
	if _, err := s.GetThread(ctx, threadID, ownerHash); err != nil {
		return nil, err
	}
	list, err := s.store.ListRuns(ctx, threadID, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range list {
		if runs.CheckExpiry(&list[i], now) {
			s.persistRun(ctx, &list[i])
			s.expireOpenSteps(ctx, &list[i])
		}
	}
	if list == nil {
		list = []domain.Run{}
	}
	return list, nil
}

// ListRunSteps lists a run's steps, oldest first.
func (s *Service) ListRunSteps(ctx context.Context, threadID, runID, ownerHash string) ([]domain.RunStep, error) {
	if _, err := s.GetRun(ctx, threadID, runID, ownerHash); err != nil {
		return nil, err
	}
	steps, err := s.store.ListRunSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	if steps == nil {
		steps = []domain.RunStep{}
	}
	return steps, nil
}

// CancelRun cancels a non-terminal run. A live stream is interrupted and
// finishes the cancellation itself; a parked run is cancelled immediately.
func (s *Service) CancelRun(ctx context.Context, threadID, runID, ownerHash string) (*domain.Run, error) {
	run, err := s.GetRun(ctx, threadID, runID, ownerHash)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	if err := s.registry.Interrupt(run.SessionID); err == nil {
		run.Status = domain.RunStatusCancelling
		s.persistRun(ctx, run)
		return run, nil
	}

	runs.Cancel(run)
	s.persistRun(ctx, run)
	s.cancelOpenSteps(ctx, run)
	return run, nil
}

// SubmitToolOutputs resumes a requires_action run with the caller's tool
// results and restarts execution.
func (s *Service) SubmitToolOutputs(ctx context.Context, threadID, runID, ownerHash string, outputs []domain.RunToolFunction) (*domain.Run, error) {
	run, err := s.GetRun(ctx, threadID, runID, ownerHash)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunStatusRequiresAction {
		return nil, fmt.Errorf("run %s is not awaiting tool outputs: %w", runID, domain.ErrValidation)
	}

	for _, output := range outputs {
		msg := &domain.Message{
			MessageID: runs.NewMessageID(),
			SessionID: run.SessionID,
			Role:      "user",
			Content:   output.Output,
			Metadata:  json.RawMessage(`{"tool_output":true}`),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			log.Printf("ERROR: failed to save tool output: %v", err)
		}
	}

	runs.SubmitOutputs(run)
	s.persistRun(ctx, run)
	s.completeOpenToolSteps(ctx, run)
	go s.executeRun(run.ID)
	return run, nil
}

// completeOpenToolSteps closes the tool_calls steps a run parked on once
// the caller has submitted their outputs.
func (s *Service) completeOpenToolSteps(ctx context.Context, run *domain.Run) {
	steps, err := s.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		log.Printf("ERROR: failed to list steps for %s: %v", run.ID, err)
		return
	}
	for i := range steps {
		if steps[i].Type == domain.RunStepTypeToolCalls && runs.CompleteStep(&steps[i], nil) {
			s.persistStep(ctx, &steps[i])
		}
	}
}

func (s *Service) cancelOpenSteps(ctx context.Context, run *domain.Run) {
	steps, err := s.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		log.Printf("ERROR: failed to list steps for %s: %v", run.ID, err)
		return
	}
	for i := range steps {
		if runs.CancelStep(&steps[i]) {
			s.persistStep(ctx, &steps[i])
		}
	}
}

func (s *Service) expireOpenSteps(ctx context.Context, run *domain.Run) {
	steps, err := s.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		log.Printf("ERROR: failed to list steps for %s: %v", run.ID, err)
		return
	}
	for i := range steps {
		if runs.ExpireStep(&steps[i]) {
			s.persistStep(ctx, &steps[i])
		}
	}
}

// --- Models and chat completions ---

// modelCatalog is the advertised model set. The catalog is static, so each
// entry carries the same fixed creation timestamp.
var modelCatalog = []string{"sonnet", "opus", "haiku"}

const modelCreated int64 = 1735689600 // 2025-01-01T00:00:00Z

// ListModels returns the advertised models.
func (s *Service) ListModels() []domain.Model {
	models := make([]domain.Model, 0, len(modelCatalog))
	for _, id := range modelCatalog {
		models = append(models, domain.Model{ID: id, Object: "model", Created: modelCreated, OwnedBy: "agentgw"})
	}
	return models
}

// GetModel returns one advertised model.
func (s *Service) GetModel(modelID string) (*domain.Model, error) {
	for _, id := range modelCatalog {
		if id == modelID {
			return &domain.Model{ID: id, Object: "model", Created: modelCreated, OwnedBy: "agentgw"}, nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "model", ID: modelID}
}

// ChatCompletion runs a one-shot completion over the engine. When emit is
// non-nil each produced assistant message is forwarded as it arrives.
func (s *Service) ChatCompletion(ctx context.Context, model string, history []domain.Message, prompt string, emit func(text string) error) (string, *domain.RunUsage, error) {
	if model == "" {
		model = s.config.DefaultModel
	}

	var full string
	var usage domain.RunUsage
	var engineErr string

	err := s.engine.Run(ctx, engine.RunInput{
		Model:    model,
		Prompt:   prompt,
		History:  history,
		MaxTurns: 1,
	}, func(ev engine.Event) error {
		switch ev.Kind {
		case engine.EventAssistantText:
			full += ev.Text
			if emit != nil {
				return emit(ev.Text)
			}
		case engine.EventUsage:
			usage.PromptTokens = ev.InputTokens
			usage.CompletionTokens = ev.OutputTokens
			usage.TotalTokens = ev.InputTokens + ev.OutputTokens
		case engine.EventError:
			engineErr = ev.ErrMessage
		}
		return nil
	})
	if engineErr != "" {
		return "", nil, fmt.Errorf("%w: %s", domain.ErrAgentExecution, engineErr)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrAgentExecution, err)
	}
	return full, &usage, nil
}
