package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/engine"
	"github.com/tyin88/agentgw/internal/runs"
)

func waitForTerminalRun(t *testing.T, svc *Service, threadID, runID, owner string) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), threadID, runID, owner)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state")
	return nil
}

func waitForRunStatus(t *testing.T, svc *Service, threadID, runID, owner string, status domain.RunStatus) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(context.Background(), threadID, runID, owner)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status == status {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run did not reach %s", status)
	return nil
}

func waitForSessionStatus(t *testing.T, svc *Service, sessionID, owner string, status domain.SessionStatus) *domain.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := svc.GetSession(context.Background(), sessionID, owner)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if session.Status == status {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session did not reach %s", status)
	return nil
}

func TestAssistantLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &engine.ScriptedEngine{})

	created, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{
		Model:        "sonnet",
		Name:         "helper",
		Instructions: "be brief",
	})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	if created.Object != "assistant" || created.ID == "" {
		t.Fatalf("unexpected assistant %+v", created)
	}

	_, err = svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Name: "no model"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without model, got %v", err)
	}

	// Cross-tenant reads collapse to not-found.
	_, err = svc.GetAssistant(ctx, created.ID, "owner2")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}

	updated, err := svc.UpdateAssistant(ctx, created.ID, "owner1", func(a *domain.Assistant) {
		a.Name = "renamed"
	})
	if err != nil {
		t.Fatalf("UpdateAssistant failed: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("unexpected name %q", updated.Name)
	}

	list, err := svc.ListAssistants(ctx, "owner1", 20)
	if err != nil {
		t.Fatalf("ListAssistants failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one assistant, got %d", len(list))
	}

	if err := svc.DeleteAssistant(ctx, created.ID, "owner1"); err != nil {
		t.Fatalf("DeleteAssistant failed: %v", err)
	}
	_, err = svc.GetAssistant(ctx, created.ID, "owner1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestThreadMessagesProjection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &engine.ScriptedEngine{})

	thread, err := svc.CreateThread(ctx, "owner1", map[string]string{"purpose": "test"})
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if thread.Object != "thread" || thread.SessionID == "" {
		t.Fatalf("unexpected thread %+v", thread)
	}

	_, err = svc.GetThread(ctx, thread.ID, "owner2")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other tenant, got %v", err)
	}

	_, err = svc.CreateThreadMessage(ctx, thread.ID, "owner1", "system", "nope")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad role, got %v", err)
	}

	msg, err := svc.CreateThreadMessage(ctx, thread.ID, "owner1", "user", "hello")
	if err != nil {
		t.Fatalf("CreateThreadMessage failed: %v", err)
	}
	if msg.Object != "thread.message" || msg.ThreadID != thread.ID {
		t.Fatalf("unexpected projection %+v", msg)
	}
	if len(msg.Content) != 1 || msg.Content[0].Text.Value != "hello" {
		t.Fatalf("unexpected content %+v", msg.Content)
	}

	messages, err := svc.ListThreadMessages(ctx, thread.ID, "owner1", 20)
	if err != nil {
		t.Fatalf("ListThreadMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
}

func TestCreateRunExecutesToCompletion(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventAssistantText, Text: "answer"},
		{Kind: engine.EventUsage, InputTokens: 10, OutputTokens: 5},
		{Kind: engine.EventDone},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet", Instructions: "be brief"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	_, err = svc.CreateRun(ctx, thread.ID, "owner1", "", "", "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation without assistant_id, got %v", err)
	}

	run, err := svc.CreateRun(ctx, thread.ID, "owner1", assistant.ID, "", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != domain.RunStatusQueued {
		t.Fatalf("expected queued, got %s", run.Status)
	}

	final := waitForTerminalRun(t, svc, thread.ID, run.ID, "owner1")
	if final.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.LastError)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage %+v", final.Usage)
	}

	steps, err := svc.ListRunSteps(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("ListRunSteps failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Type != domain.RunStepTypeMessageCreation {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if steps[0].Status != domain.RunStepStatusCompleted {
		t.Fatalf("expected completed step, got %s", steps[0].Status)
	}

	messages, err := svc.ListThreadMessages(ctx, thread.ID, "owner1", 20)
	if err != nil {
		t.Fatalf("ListThreadMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != "assistant" {
		t.Fatalf("expected one assistant message, got %+v", messages)
	}
}

func TestCreateRunFailsOnEngineError(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventError, ErrMessage: "model unavailable"},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	run, err := svc.CreateRun(ctx, thread.ID, "owner1", assistant.ID, "", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	final := waitForTerminalRun(t, svc, thread.ID, run.ID, "owner1")
	if final.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.LastError == nil || final.LastError.Code != "agent_execution_error" {
		t.Fatalf("unexpected last error %+v", final.LastError)
	}

	// The backing session follows the run into its error state.
	waitForSessionStatus(t, svc, thread.SessionID, "owner1", domain.SessionStatusError)
}

func TestRunCompletionFinalizesSession(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventAssistantText, Text: "answer"},
		{Kind: engine.EventUsage, NumTurns: 1, CostUSD: 0.02, InputTokens: 10, OutputTokens: 5},
		{Kind: engine.EventDone},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	run, err := svc.CreateRun(ctx, thread.ID, "owner1", assistant.ID, "", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	final := waitForTerminalRun(t, svc, thread.ID, run.ID, "owner1")
	if final.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.LastError)
	}

	session := waitForSessionStatus(t, svc, thread.SessionID, "owner1", domain.SessionStatusCompleted)
	if session.NumTurns != 1 {
		t.Fatalf("expected 1 accumulated turn, got %d", session.NumTurns)
	}
	if session.TotalCostUSD != 0.02 {
		t.Fatalf("expected 0.02 accumulated cost, got %f", session.TotalCostUSD)
	}
}

func TestRunParksOnFunctionTool(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventToolUse, ToolName: "get_weather", ToolArgs: json.RawMessage(`{"city":"Oslo"}`)},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{
		Model: "sonnet",
		Tools: []domain.AssistantTool{{Type: "function", Function: json.RawMessage(`{"name":"get_weather"}`)}},
	})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	run, err := svc.CreateRun(ctx, thread.ID, "owner1", assistant.ID, "", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	parked := waitForRunStatus(t, svc, thread.ID, run.ID, "owner1", domain.RunStatusRequiresAction)
	if parked.RequiredAction == nil || parked.RequiredAction.Type != "submit_tool_outputs" {
		t.Fatalf("unexpected required_action %+v", parked.RequiredAction)
	}
	calls := parked.RequiredAction.SubmitToolOutputs.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "get_weather" {
		t.Fatalf("unexpected tool calls %+v", calls)
	}

	steps, err := svc.ListRunSteps(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("ListRunSteps failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Type != domain.RunStepTypeToolCalls {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if steps[0].Status != domain.RunStepStatusInProgress {
		t.Fatalf("expected open tool step while parked, got %s", steps[0].Status)
	}

	eng.Script = []engine.Event{
		{Kind: engine.EventAssistantText, Text: "sunny in Oslo"},
		{Kind: engine.EventUsage, NumTurns: 1, CostUSD: 0.01, InputTokens: 8, OutputTokens: 4},
		{Kind: engine.EventDone},
	}
	resumed, err := svc.SubmitToolOutputs(ctx, thread.ID, run.ID, "owner1", []domain.RunToolFunction{
		{Name: "get_weather", Output: "sunny"},
	})
	if err != nil {
		t.Fatalf("SubmitToolOutputs failed: %v", err)
	}
	if resumed.Status != domain.RunStatusInProgress || resumed.RequiredAction != nil {
		t.Fatalf("expected resumed run, got %+v", resumed)
	}

	final := waitForTerminalRun(t, svc, thread.ID, run.ID, "owner1")
	if final.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%+v)", final.Status, final.LastError)
	}

	steps, err = svc.ListRunSteps(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("ListRunSteps failed: %v", err)
	}
	for _, step := range steps {
		if step.Status != domain.RunStepStatusCompleted {
			t.Fatalf("expected all steps completed, got %+v", step)
		}
	}
}

func TestRunParksOnQuestion(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventAssistantText, Text: "one moment"},
		{Kind: engine.EventQuestion, QuestionPrompt: "overwrite the file?", QuestionOptions: []string{"yes", "no"}},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	run, err := svc.CreateRun(ctx, thread.ID, "owner1", assistant.ID, "", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	parked := waitForRunStatus(t, svc, thread.ID, run.ID, "owner1", domain.RunStatusRequiresAction)
	if parked.RequiredAction == nil || parked.RequiredAction.SubmitToolOutputs == nil {
		t.Fatalf("unexpected required_action %+v", parked.RequiredAction)
	}
	calls := parked.RequiredAction.SubmitToolOutputs.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "answer_question" {
		t.Fatalf("unexpected tool calls %+v", calls)
	}
	var args struct {
		Prompt  string   `json:"prompt"`
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("bad arguments %q: %v", calls[0].Function.Arguments, err)
	}
	if args.Prompt != "overwrite the file?" || len(args.Options) != 2 {
		t.Fatalf("unexpected arguments %+v", args)
	}
}

func TestCancelParkedRun(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &engine.ScriptedEngine{})

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	// Build a parked run directly, bypassing background execution.
	run := runs.NewRun(thread.ID, assistant.ID, thread.SessionID, "sonnet", "", nil, time.Hour)
	runs.Start(run)
	runs.RequireAction(run, &domain.RequiredAction{
		Type: "submit_tool_outputs",
		SubmitToolOutputs: &domain.SubmitToolOutputs{
			ToolCalls: []domain.RunToolCall{{ID: "call_1", Type: "function"}},
		},
	})
	if err := svc.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	cancelled, err := svc.CancelRun(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if cancelled.Status != domain.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling a terminal run is a no-op.
	again, err := svc.CancelRun(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("second CancelRun failed: %v", err)
	}
	if again.Status != domain.RunStatusCancelled {
		t.Fatalf("terminal status mutated to %s", again.Status)
	}
}

func TestSubmitToolOutputsResumesRun(t *testing.T) {
	ctx := context.Background()
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventAssistantText, Text: "with outputs"},
		{Kind: engine.EventDone},
	}}
	svc := newTestService(t, eng)

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	run := runs.NewRun(thread.ID, assistant.ID, thread.SessionID, "sonnet", "", nil, time.Hour)
	runs.Start(run)
	runs.RequireAction(run, &domain.RequiredAction{
		Type: "submit_tool_outputs",
		SubmitToolOutputs: &domain.SubmitToolOutputs{
			ToolCalls: []domain.RunToolCall{{ID: "call_1", Type: "function"}},
		},
	})
	if err := svc.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	resumed, err := svc.SubmitToolOutputs(ctx, thread.ID, run.ID, "owner1", []domain.RunToolFunction{
		{Name: "lookup", Output: "42"},
	})
	if err != nil {
		t.Fatalf("SubmitToolOutputs failed: %v", err)
	}
	if resumed.Status != domain.RunStatusInProgress {
		t.Fatalf("expected in_progress, got %s", resumed.Status)
	}
	if resumed.RequiredAction != nil {
		t.Fatal("required_action must be cleared on submission")
	}

	final := waitForTerminalRun(t, svc, thread.ID, run.ID, "owner1")
	if final.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}

	// Submitting against a run that is no longer parked is invalid.
	_, err = svc.SubmitToolOutputs(ctx, thread.ID, run.ID, "owner1", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRunLazyExpiryOnRead(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, &engine.ScriptedEngine{})

	assistant, err := svc.CreateAssistant(ctx, "owner1", &domain.Assistant{Model: "sonnet"})
	if err != nil {
		t.Fatalf("CreateAssistant failed: %v", err)
	}
	thread, err := svc.CreateThread(ctx, "owner1", nil)
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	run := runs.NewRun(thread.ID, assistant.ID, thread.SessionID, "sonnet", "", nil, time.Hour)
	runs.Start(run)
	run.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := svc.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	step := runs.NewMessageStep(run, "msg_1")
	if err := svc.store.CreateRunStep(ctx, step); err != nil {
		t.Fatalf("CreateRunStep failed: %v", err)
	}

	read, err := svc.GetRun(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if read.Status != domain.RunStatusExpired {
		t.Fatalf("expected expired on read, got %s", read.Status)
	}

	steps, err := svc.ListRunSteps(ctx, thread.ID, run.ID, "owner1")
	if err != nil {
		t.Fatalf("ListRunSteps failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != domain.RunStepStatusExpired {
		t.Fatalf("expected expired step, got %+v", steps)
	}
}

func TestModelCatalog(t *testing.T) {
	svc := newTestService(t, &engine.ScriptedEngine{})

	models := svc.ListModels()
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %d", len(models))
	}

	model, err := svc.GetModel("sonnet")
	if err != nil {
		t.Fatalf("GetModel failed: %v", err)
	}
	if model.ID != "sonnet" || model.Object != "model" {
		t.Fatalf("unexpected model %+v", model)
	}
	if model.Created != modelCreated {
		t.Fatalf("expected catalog timestamp, got %d", model.Created)
	}

	_, err = svc.GetModel("gpt-x")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChatCompletion(t *testing.T) {
	eng := &engine.ScriptedEngine{Script: []engine.Event{
		{Kind: engine.EventAssistantText, Text: "hello "},
		{Kind: engine.EventAssistantText, Text: "world"},
		{Kind: engine.EventUsage, InputTokens: 4, OutputTokens: 2},
		{Kind: engine.EventDone},
	}}
	svc := newTestService(t, eng)

	var chunks []string
	text, usage, err := svc.ChatCompletion(context.Background(), "sonnet", nil, "say hello", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
	if usage.TotalTokens != 6 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 streamed chunks, got %d", len(chunks))
	}
}
