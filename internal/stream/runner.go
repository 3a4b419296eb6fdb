package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonschema"

	"github.com/tyin88/agentgw/internal/domain"
	"github.com/tyin88/agentgw/internal/engine"
)

// State is the runner's terminal state.
type State string

const (
	StateCompleted   State = "completed"
	StateErrored     State = "errored"
	StateInterrupted State = "interrupted"
)

// errInterrupted aborts the engine loop when the cancellation flag is seen.
var errInterrupted = errors.New("stream interrupted")

// Observer receives lifecycle callbacks as the stream progresses. The
// service uses it to persist messages and drive run-step bookkeeping
// without the runner knowing about storage.
type Observer interface {
	// OnAssistantMessage is called for each produced assistant turn and
	// returns the persisted message id carried on the public event.
	OnAssistantMessage(ctx context.Context, content string) string
	// OnToolUse is called once per tool invocation batch.
	OnToolUse(ctx context.Context, toolName string, args json.RawMessage)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) OnAssistantMessage(ctx context.Context, content string) string {
	return "msg_" + uuid.New().String()[:8]
}
func (NopObserver) OnToolUse(ctx context.Context, toolName string, args json.RawMessage) {}

// Runner drives one stream: Init -> Streaming -> {Completed, Errored,
// Interrupted}. Ordering is guaranteed: exactly one init first, a result
// (when produced) immediately before done, exactly one done last.
type Runner struct {
	Engine   engine.Engine
	Handle   *Handle
	Observer Observer

	// Init payload fields resolved by the caller.
	SessionID    string
	Model        string
	AllowedTools []string
	Commands     []string
	Plugins      []string

	// OutputSchema, when set, validates the terminal structured payload.
	OutputSchema json.RawMessage
}

// Result is what the stream produced, surfaced to the caller after the
// terminal done event has been written.
type Result struct {
	State        State
	NumTurns     int
	TotalCostUSD float64
	Usage        *domain.RunUsage
	Err          error
}

// Run executes the stream, writing every public event to sink. The sink is
// called from a single goroutine; sink errors abort the stream.
func (r *Runner) Run(ctx context.Context, input engine.RunInput, sink func(domain.StreamEvent) error) Result {
	observer := r.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	if err := sink(domain.InitEvent(domain.InitPayload{
		SessionID:    r.SessionID,
		Model:        r.Model,
		AllowedTools: r.AllowedTools,
		Commands:     r.Commands,
		Plugins:      r.Plugins,
	})); err != nil {
		return Result{State: StateErrored, Err: err}
	}

	var schema *jsonschema.Schema
	if len(r.OutputSchema) > 0 {
		compiled, err := jsonschema.NewCompiler().Compile(r.OutputSchema)
		if err != nil {
			// Rejecting a bad schema belongs at the boundary; reaching
			// here means validation was skipped, so fail the stream.
			return r.finishError(ctx, sink, fmt.Errorf("compile output schema: %w: %v", domain.ErrValidation, err))
		}
		schema = compiled
	}

	input.Answer = func(answerCtx context.Context) (string, error) {
		return r.Handle.awaitAnswer(answerCtx)
	}

	var pending domain.ResultPayload
	var usage *domain.RunUsage
	var engineErr error

	runErr := r.Engine.Run(ctx, input, func(ev engine.Event) error {
		// The cancellation flag is checked before every emission; an
		// interrupt is observed within one event cycle.
		if r.Handle.Interrupted() {
			return errInterrupted
		}

		switch ev.Kind {
		case engine.EventAssistantText:
			messageID := observer.OnAssistantMessage(ctx, ev.Text)
			return sink(domain.MessageEvent(domain.MessagePayload{
				MessageID: messageID,
				Role:      "assistant",
				Content:   ev.Text,
			}))

		case engine.EventToolUse:
			observer.OnToolUse(ctx, ev.ToolName, ev.ToolArgs)
			return nil

		case engine.EventQuestion:
			correlationID := "q_" + uuid.New().String()[:8]
			r.Handle.expectAnswer(correlationID)
			return sink(domain.QuestionEvent(domain.QuestionPayload{
				CorrelationID: correlationID,
				Prompt:        ev.QuestionPrompt,
				Options:       ev.QuestionOptions,
			}))

		case engine.EventUsage:
			pending.NumTurns = ev.NumTurns
			pending.TotalCostUSD = ev.CostUSD
			if ev.InputTokens > 0 || ev.OutputTokens > 0 {
				usage = &domain.RunUsage{
					PromptTokens:     ev.InputTokens,
					CompletionTokens: ev.OutputTokens,
					TotalTokens:      ev.InputTokens + ev.OutputTokens,
				}
			}
			return nil

		case engine.EventDone:
			if ev.NumTurns > 0 {
				pending.NumTurns = ev.NumTurns
				pending.TotalCostUSD = ev.CostUSD
			}
			pending.StructuredOutput = ev.FinalOutput
			return nil

		case engine.EventError:
			engineErr = fmt.Errorf("%w: %s", domain.ErrAgentExecution, ev.ErrMessage)
			return nil
		}
		log.Printf("WARN: unknown engine event kind %q on session %s", ev.Kind, r.SessionID)
		return nil
	})

	if errors.Is(runErr, errInterrupted) || (runErr == nil && r.Handle.Interrupted()) {
		// No result after an interrupt; terminate immediately.
		if err := sink(domain.DoneEvent(domain.DoneReasonInterrupted)); err != nil {
			return Result{State: StateInterrupted, Err: err}
		}
		return Result{State: StateInterrupted}
	}

	if engineErr == nil && runErr != nil {
		engineErr = fmt.Errorf("%w: %v", domain.ErrAgentExecution, runErr)
	}
	if engineErr != nil {
		return r.finishError(ctx, sink, engineErr)
	}

	if schema != nil && len(pending.StructuredOutput) > 0 {
		result := schema.ValidateJSON(pending.StructuredOutput)
		if !result.IsValid() {
			err := fmt.Errorf("%w: %v", domain.ErrStructuredOutput, result.Errors)
			return r.finishError(ctx, sink, err)
		}
	}

	if err := sink(domain.ResultEvent(pending)); err != nil {
		return Result{State: StateErrored, Err: err}
	}
	if err := sink(domain.DoneEvent(domain.DoneReasonCompleted)); err != nil {
		return Result{State: StateErrored, Err: err}
	}
	return Result{
		State:        StateCompleted,
		NumTurns:     pending.NumTurns,
		TotalCostUSD: pending.TotalCostUSD,
		Usage:        usage,
	}
}

// finishError closes the stream deterministically: an error event followed
// by done(reason=error). A stream never just disconnects.
func (r *Runner) finishError(ctx context.Context, sink func(domain.StreamEvent) error, cause error) Result {
	if err := sink(domain.ErrorEvent(domain.ErrorCode(cause), cause.Error())); err != nil {
		return Result{State: StateErrored, Err: cause}
	}
	if err := sink(domain.DoneEvent(domain.DoneReasonError)); err != nil {
		return Result{State: StateErrored, Err: cause}
	}
	return Result{State: StateErrored, Err: cause}
}
